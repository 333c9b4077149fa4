package revdist

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/doublezero-offchain/pkg/merkle"
)

func testDebts(t *testing.T, n int) *ComputedSolanaValidatorDebts {
	t.Helper()
	debts := &ComputedSolanaValidatorDebts{
		Blockhash:        [32]byte{1},
		FirstSolanaEpoch: 800,
		LastSolanaEpoch:  800,
	}
	for i := 0; i < n; i++ {
		debts.Debts = append(debts.Debts, ComputedSolanaValidatorDebt{
			NodeID: solana.NewWallet().PublicKey(),
			Amount: uint64(i+1) * 1_000_000,
		})
	}
	return debts
}

func TestDebtMerkleRoundTrip(t *testing.T) {
	debts := testDebts(t, 7)
	root, err := debts.MerkleRoot()
	require.NoError(t, err)

	for _, debt := range debts.Debts {
		leaf, proof, err := debts.FindDebtProof(debt.NodeID)
		require.NoError(t, err)
		require.Equal(t, debt, leaf)
		require.True(t, merkle.Verify(root, leaf.LeafBytes(), proof))
	}
}

func TestDebtProofUnknownNode(t *testing.T) {
	debts := testDebts(t, 3)
	_, _, err := debts.FindDebtProof(solana.NewWallet().PublicKey())
	require.Error(t, err)
}

func TestTotalDebt(t *testing.T) {
	debts := testDebts(t, 3)
	require.Equal(t, uint64(6_000_000), debts.TotalDebt())
}

func TestDebtsBorshRoundTrip(t *testing.T) {
	debts := testDebts(t, 4)
	raw, err := borsh.Serialize(*debts)
	require.NoError(t, err)

	var decoded ComputedSolanaValidatorDebts
	require.NoError(t, borsh.Deserialize(&decoded, raw))
	require.Equal(t, *debts, decoded)
}

func TestShapleyOutputSortAndProve(t *testing.T) {
	storage := &ShapleyOutputStorage{Epoch: 12}
	for i := 0; i < 5; i++ {
		storage.Rewards = append(storage.Rewards, RewardShare{
			ContributorKey: solana.NewWallet().PublicKey(),
			UnitShare:      uint32(1000 * (i + 1)),
		})
	}
	storage.SortRewards()
	for i := 1; i < len(storage.Rewards); i++ {
		prev := storage.Rewards[i-1].ContributorKey.Bytes()
		cur := storage.Rewards[i].ContributorKey.Bytes()
		require.Negative(t, bytesCompare(prev, cur))
	}

	root, err := storage.MerkleRoot()
	require.NoError(t, err)
	for _, share := range storage.Rewards {
		got, proof, err := storage.FindRewardProof(share.ContributorKey)
		require.NoError(t, err)
		require.Equal(t, share, got)
		require.True(t, merkle.Verify(root, got.LeafBytes(), proof))
	}
}

func bytesCompare(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func TestLeafBytesLayout(t *testing.T) {
	node := solana.NewWallet().PublicKey()
	leaf := ComputedSolanaValidatorDebt{NodeID: node, Amount: 0x0102030405060708}
	raw := leaf.LeafBytes()
	require.Len(t, raw, 40)
	require.Equal(t, node.Bytes(), raw[:32])
	require.Equal(t, []byte{8, 7, 6, 5, 4, 3, 2, 1}, raw[32:])
}
