package revdist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/doublezero-offchain/pkg/merkle"
)

// LeafBytes is the canonical merkle leaf encoding of a debt entry:
// node id followed by the little-endian amount.
func (d ComputedSolanaValidatorDebt) LeafBytes() []byte {
	out := make([]byte, 0, 40)
	out = append(out, d.NodeID.Bytes()...)
	out = binary.LittleEndian.AppendUint64(out, d.Amount)
	return out
}

// TotalDebt sums the committed leaf amounts.
func (c *ComputedSolanaValidatorDebts) TotalDebt() uint64 {
	var total uint64
	for _, debt := range c.Debts {
		total += debt.Amount
	}
	return total
}

// MerkleTree builds the tree over the leaves in committed order.
func (c *ComputedSolanaValidatorDebts) MerkleTree() (*merkle.Tree, error) {
	leaves := make([][]byte, len(c.Debts))
	for i, debt := range c.Debts {
		leaves[i] = debt.LeafBytes()
	}
	return merkle.NewTree(leaves)
}

// MerkleRoot returns the root over the committed leaves.
func (c *ComputedSolanaValidatorDebts) MerkleRoot() ([32]byte, error) {
	tree, err := c.MerkleTree()
	if err != nil {
		return [32]byte{}, err
	}
	return tree.Root(), nil
}

// FindDebtProof returns the leaf and proof for the given node id.
func (c *ComputedSolanaValidatorDebts) FindDebtProof(nodeID solana.PublicKey) (ComputedSolanaValidatorDebt, merkle.Proof, error) {
	for i, debt := range c.Debts {
		if debt.NodeID.Equals(nodeID) {
			tree, err := c.MerkleTree()
			if err != nil {
				return ComputedSolanaValidatorDebt{}, merkle.Proof{}, err
			}
			proof, err := tree.ProofFor(i)
			if err != nil {
				return ComputedSolanaValidatorDebt{}, merkle.Proof{}, err
			}
			return debt, proof, nil
		}
	}
	return ComputedSolanaValidatorDebt{}, merkle.Proof{}, fmt.Errorf("node %s not in committed debts", nodeID)
}

// LeafBytes is the canonical merkle leaf encoding of a reward share.
func (r RewardShare) LeafBytes() []byte {
	out := make([]byte, 0, 40)
	out = append(out, r.ContributorKey.Bytes()...)
	out = binary.LittleEndian.AppendUint32(out, r.UnitShare)
	out = binary.LittleEndian.AppendUint32(out, r.Packed)
	return out
}

// SortRewards puts the shares into the canonical committed order:
// lexicographic by contributor key.
func (s *ShapleyOutputStorage) SortRewards() {
	sort.Slice(s.Rewards, func(i, j int) bool {
		return bytes.Compare(s.Rewards[i].ContributorKey.Bytes(), s.Rewards[j].ContributorKey.Bytes()) < 0
	})
}

// MerkleTree builds the tree over the reward shares in committed order.
func (s *ShapleyOutputStorage) MerkleTree() (*merkle.Tree, error) {
	leaves := make([][]byte, len(s.Rewards))
	for i, share := range s.Rewards {
		leaves[i] = share.LeafBytes()
	}
	return merkle.NewTree(leaves)
}

// MerkleRoot returns the root over the committed reward shares.
func (s *ShapleyOutputStorage) MerkleRoot() ([32]byte, error) {
	tree, err := s.MerkleTree()
	if err != nil {
		return [32]byte{}, err
	}
	return tree.Root(), nil
}

// FindRewardProof returns the share and proof for the given contributor.
func (s *ShapleyOutputStorage) FindRewardProof(contributor solana.PublicKey) (RewardShare, merkle.Proof, error) {
	for i, share := range s.Rewards {
		if share.ContributorKey.Equals(contributor) {
			tree, err := s.MerkleTree()
			if err != nil {
				return RewardShare{}, merkle.Proof{}, err
			}
			proof, err := tree.ProofFor(i)
			if err != nil {
				return RewardShare{}, merkle.Proof{}, err
			}
			return share, proof, nil
		}
	}
	return RewardShare{}, merkle.Proof{}, fmt.Errorf("contributor %s not in committed rewards", contributor)
}
