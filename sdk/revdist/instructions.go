package revdist

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"

	"github.com/malbeclabs/doublezero-offchain/pkg/merkle"
)

// Revenue distribution program instruction indexes.
const (
	instructionInitializeDistribution       uint8 = 0
	instructionConfigureDistributionDebt    uint8 = 1
	instructionConfigureDistributionRewards uint8 = 2
	instructionVerifyMerkleRoot             uint8 = 3
	instructionFinalizeDistributionDebt     uint8 = 4
	instructionFinalizeDistributionRewards  uint8 = 5
	instructionSweepDistributionTokens      uint8 = 6
	instructionInitializeValidatorDeposit   uint8 = 7
	instructionPaySolanaValidatorDebt       uint8 = 8
	instructionEnableDebtWriteOff           uint8 = 9
	instructionWriteOffSolanaValidatorDebt  uint8 = 10
	instructionDistributeRewards            uint8 = 11
)

// Merkle root kinds for VerifyDistributionMerkleRoot.
const (
	MerkleRootKindDebt    uint8 = 0
	MerkleRootKindRewards uint8 = 1
)

// proofWire is the borsh wire shape of a merkle proof.
type proofWire struct {
	Siblings  [][32]byte
	LeafIndex uint32
}

func toProofWire(proof merkle.Proof) proofWire {
	siblings := make([][32]byte, len(proof.Siblings))
	copy(siblings, proof.Siblings)
	return proofWire{Siblings: siblings, LeafIndex: proof.LeafIndex}
}

// BuildInitializeDistributionInstruction opens the distribution account
// for the next DZ epoch.
func BuildInitializeDistributionInstruction(programID solana.PublicKey, payer solana.PublicKey, epoch uint64, mint2Z solana.PublicKey) (solana.Instruction, error) {
	distributionKey, _, err := DeriveDistributionPDA(programID, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to derive distribution PDA: %w", err)
	}
	configKey, _, err := DeriveConfigPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive config PDA: %w", err)
	}
	data, err := borsh.Serialize(struct {
		Discriminator uint8
	}{instructionInitializeDistribution})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize args: %w", err)
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(payer).SIGNER().WRITE(),
		solana.Meta(configKey),
		solana.Meta(distributionKey).WRITE(),
		solana.Meta(mint2Z),
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

// BuildConfigureDistributionDebtInstruction stages the validator debt
// merkle root together with its totals.
func BuildConfigureDistributionDebtInstruction(programID solana.PublicKey, payer solana.PublicKey, epoch uint64, totalValidators uint32, totalDebt uint64, merkleRoot [32]byte) (solana.Instruction, error) {
	distributionKey, _, err := DeriveDistributionPDA(programID, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to derive distribution PDA: %w", err)
	}
	data, err := borsh.Serialize(struct {
		Discriminator   uint8
		TotalValidators uint32
		TotalDebt       uint64
		MerkleRoot      [32]byte
	}{instructionConfigureDistributionDebt, totalValidators, totalDebt, merkleRoot})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize args: %w", err)
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(payer).SIGNER().WRITE(),
		solana.Meta(distributionKey).WRITE(),
	}, data), nil
}

// BuildConfigureDistributionRewardsInstruction stages the contributor
// rewards merkle root.
func BuildConfigureDistributionRewardsInstruction(programID solana.PublicKey, payer solana.PublicKey, epoch uint64, totalContributors uint32, merkleRoot [32]byte) (solana.Instruction, error) {
	distributionKey, _, err := DeriveDistributionPDA(programID, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to derive distribution PDA: %w", err)
	}
	data, err := borsh.Serialize(struct {
		Discriminator     uint8
		TotalContributors uint32
		MerkleRoot        [32]byte
	}{instructionConfigureDistributionRewards, totalContributors, merkleRoot})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize args: %w", err)
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(payer).SIGNER().WRITE(),
		solana.Meta(distributionKey).WRITE(),
	}, data), nil
}

// BuildVerifyDebtMerkleRootInstruction builds the simulation-only root
// check for a debt leaf.
func BuildVerifyDebtMerkleRootInstruction(programID solana.PublicKey, epoch uint64, leaf ComputedSolanaValidatorDebt, proof merkle.Proof) (solana.Instruction, error) {
	distributionKey, _, err := DeriveDistributionPDA(programID, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to derive distribution PDA: %w", err)
	}
	data, err := borsh.Serialize(struct {
		Discriminator uint8
		Kind          uint8
		NodeID        [32]byte
		Amount        uint64
		Proof         proofWire
	}{instructionVerifyMerkleRoot, MerkleRootKindDebt, [32]byte(leaf.NodeID), leaf.Amount, toProofWire(proof)})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize args: %w", err)
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(distributionKey),
	}, data), nil
}

// BuildFinalizeDistributionDebtInstruction finalizes the staged debt root.
func BuildFinalizeDistributionDebtInstruction(programID solana.PublicKey, payer solana.PublicKey, epoch uint64) (solana.Instruction, error) {
	distributionKey, _, err := DeriveDistributionPDA(programID, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to derive distribution PDA: %w", err)
	}
	data, err := borsh.Serialize(struct {
		Discriminator uint8
	}{instructionFinalizeDistributionDebt})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize args: %w", err)
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(payer).SIGNER().WRITE(),
		solana.Meta(distributionKey).WRITE(),
	}, data), nil
}

// BuildFinalizeDistributionRewardsInstruction finalizes the staged
// rewards root.
func BuildFinalizeDistributionRewardsInstruction(programID solana.PublicKey, payer solana.PublicKey, epoch uint64) (solana.Instruction, error) {
	distributionKey, _, err := DeriveDistributionPDA(programID, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to derive distribution PDA: %w", err)
	}
	data, err := borsh.Serialize(struct {
		Discriminator uint8
	}{instructionFinalizeDistributionRewards})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize args: %w", err)
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(payer).SIGNER().WRITE(),
		solana.Meta(distributionKey).WRITE(),
	}, data), nil
}

// BuildSweepDistributionTokensInstruction sweeps converted 2Z into the
// distribution vault.
func BuildSweepDistributionTokensInstruction(programID solana.PublicKey, epoch uint64, swapProgramID, fillsRegistryKey solana.PublicKey) (solana.Instruction, error) {
	distributionKey, _, err := DeriveDistributionPDA(programID, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to derive distribution PDA: %w", err)
	}
	configKey, _, err := DeriveConfigPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive config PDA: %w", err)
	}
	token2ZKey, _, err := Derive2ZTokenPDA(programID, distributionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive 2z token PDA: %w", err)
	}
	data, err := borsh.Serialize(struct {
		Discriminator uint8
	}{instructionSweepDistributionTokens})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize args: %w", err)
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(distributionKey).WRITE(),
		solana.Meta(configKey),
		solana.Meta(token2ZKey).WRITE(),
		solana.Meta(swapProgramID),
		solana.Meta(fillsRegistryKey).WRITE(),
	}, data), nil
}

// BuildInitializeValidatorDepositInstruction opens a deposit account for
// a Solana validator node. It is idempotent at the program level.
func BuildInitializeValidatorDepositInstruction(programID solana.PublicKey, payer solana.PublicKey, nodeID solana.PublicKey) (solana.Instruction, error) {
	depositKey, _, err := DeriveValidatorDepositPDA(programID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive validator deposit PDA: %w", err)
	}
	data, err := borsh.Serialize(struct {
		Discriminator uint8
		NodeID        [32]byte
	}{instructionInitializeValidatorDeposit, [32]byte(nodeID)})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize args: %w", err)
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(payer).SIGNER().WRITE(),
		solana.Meta(depositKey).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

// BuildPaySolanaValidatorDebtInstruction pays one committed debt leaf
// from the validator's deposit.
func BuildPaySolanaValidatorDebtInstruction(programID solana.PublicKey, epoch uint64, nodeID solana.PublicKey, amount uint64, proof merkle.Proof) (solana.Instruction, error) {
	distributionKey, _, err := DeriveDistributionPDA(programID, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to derive distribution PDA: %w", err)
	}
	depositKey, _, err := DeriveValidatorDepositPDA(programID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive validator deposit PDA: %w", err)
	}
	data, err := borsh.Serialize(struct {
		Discriminator uint8
		Amount        uint64
		Proof         proofWire
	}{instructionPaySolanaValidatorDebt, amount, toProofWire(proof)})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize args: %w", err)
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(distributionKey).WRITE(),
		solana.Meta(depositKey).WRITE(),
		solana.Meta(nodeID),
	}, data), nil
}

// BuildEnableDebtWriteOffInstruction enables write-offs on a distribution.
func BuildEnableDebtWriteOffInstruction(programID solana.PublicKey, payer solana.PublicKey, epoch uint64) (solana.Instruction, error) {
	distributionKey, _, err := DeriveDistributionPDA(programID, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to derive distribution PDA: %w", err)
	}
	data, err := borsh.Serialize(struct {
		Discriminator uint8
	}{instructionEnableDebtWriteOff})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize args: %w", err)
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(payer).SIGNER().WRITE(),
		solana.Meta(distributionKey).WRITE(),
	}, data), nil
}

// BuildWriteOffSolanaValidatorDebtInstruction declares a stale unpaid
// leaf on sourceEpoch uncollectible, charging targetEpoch's liquidity.
func BuildWriteOffSolanaValidatorDebtInstruction(programID solana.PublicKey, payer solana.PublicKey, sourceEpoch uint64, nodeID solana.PublicKey, targetEpoch uint64, amount uint64, proof merkle.Proof) (solana.Instruction, error) {
	sourceKey, _, err := DeriveDistributionPDA(programID, sourceEpoch)
	if err != nil {
		return nil, fmt.Errorf("failed to derive source distribution PDA: %w", err)
	}
	targetKey, _, err := DeriveDistributionPDA(programID, targetEpoch)
	if err != nil {
		return nil, fmt.Errorf("failed to derive target distribution PDA: %w", err)
	}
	data, err := borsh.Serialize(struct {
		Discriminator uint8
		Amount        uint64
		Proof         proofWire
	}{instructionWriteOffSolanaValidatorDebt, amount, toProofWire(proof)})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize args: %w", err)
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(payer).SIGNER().WRITE(),
		solana.Meta(sourceKey).WRITE(),
		solana.Meta(nodeID),
		solana.Meta(targetKey).WRITE(),
	}, data), nil
}

// BuildDistributeRewardsInstruction distributes one contributor's reward
// share to up to 8 recipient token accounts.
func BuildDistributeRewardsInstruction(programID solana.PublicKey, epoch uint64, serviceKey solana.PublicKey, mint2Z solana.PublicKey, recipientTokenAccounts []solana.PublicKey, unitShare uint32, economicBurnRate uint32, proof merkle.Proof) (solana.Instruction, error) {
	if len(recipientTokenAccounts) == 0 || len(recipientTokenAccounts) > 8 {
		return nil, fmt.Errorf("recipient count %d out of range [1, 8]", len(recipientTokenAccounts))
	}
	distributionKey, _, err := DeriveDistributionPDA(programID, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to derive distribution PDA: %w", err)
	}
	contributorKey, _, err := DeriveContributorRewardsPDA(programID, serviceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive contributor rewards PDA: %w", err)
	}
	token2ZKey, _, err := Derive2ZTokenPDA(programID, distributionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive 2z token PDA: %w", err)
	}
	data, err := borsh.Serialize(struct {
		Discriminator    uint8
		UnitShare        uint32
		EconomicBurnRate uint32
		Proof            proofWire
	}{instructionDistributeRewards, unitShare, economicBurnRate, toProofWire(proof)})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize args: %w", err)
	}
	accounts := solana.AccountMetaSlice{
		solana.Meta(distributionKey).WRITE(),
		solana.Meta(contributorKey),
		solana.Meta(token2ZKey).WRITE(),
		solana.Meta(mint2Z),
		solana.Meta(solana.TokenProgramID),
	}
	for _, recipient := range recipientTokenAccounts {
		accounts = append(accounts, solana.Meta(recipient).WRITE())
	}
	return solana.NewInstruction(programID, accounts, data), nil
}
