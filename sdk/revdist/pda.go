package revdist

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/doublezero-offchain/sdk/record"
)

var (
	seedProgramConfig          = []byte("program_config")
	seedDistribution           = []byte("distribution")
	seedSolanaValidatorDeposit = []byte("solana_validator_deposit")
	seedContributorRewards     = []byte("contributor_rewards")
	seedJournal                = []byte("journal")
	seed2ZToken                = []byte("2z_token")

	// Record seed prefixes for the off-chain artifacts persisted on the
	// DZ Ledger.
	SeedSolanaValidatorDebt  = []byte("solana_validator_debt")
	SeedDZContributorRewards = []byte("dz_contributor_rewards")
	SeedShapleyOutput        = []byte("shapley_output")
)

func epochLEBytes(epoch uint64) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, epoch)
	return out
}

// DebtRecordSeeds returns the seed sequence of the validator debt record
// for a DZ epoch.
func DebtRecordSeeds(epoch uint64) [][]byte {
	return [][]byte{SeedSolanaValidatorDebt, epochLEBytes(epoch)}
}

// RewardsRecordSeeds returns the seed sequence of the Shapley output
// record for a DZ epoch.
func RewardsRecordSeeds(epoch uint64) [][]byte {
	return [][]byte{SeedDZContributorRewards, epochLEBytes(epoch), SeedShapleyOutput}
}

// DeriveDebtRecordKey derives the ledger record address of the debt
// record written by the debt accountant.
func DeriveDebtRecordKey(recordProgramID, accountant solana.PublicKey, epoch uint64) (solana.PublicKey, error) {
	return record.DeriveKey(recordProgramID, accountant, DebtRecordSeeds(epoch))
}

// DeriveRewardsRecordKey derives the ledger record address of the Shapley
// output record written by the rewards accountant.
func DeriveRewardsRecordKey(recordProgramID, accountant solana.PublicKey, epoch uint64) (solana.PublicKey, error) {
	return record.DeriveKey(recordProgramID, accountant, RewardsRecordSeeds(epoch))
}

func DeriveConfigPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedProgramConfig}, programID)
}

func DeriveDistributionPDA(programID solana.PublicKey, epoch uint64) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedDistribution, epochLEBytes(epoch)}, programID)
}

func DeriveJournalPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedJournal}, programID)
}

func DeriveValidatorDepositPDA(programID solana.PublicKey, nodeID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedSolanaValidatorDeposit, nodeID.Bytes()}, programID)
}

func DeriveContributorRewardsPDA(programID solana.PublicKey, serviceKey solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedContributorRewards, serviceKey.Bytes()}, programID)
}

// Derive2ZTokenPDA derives the distribution's 2Z token vault address.
func Derive2ZTokenPDA(programID solana.PublicKey, distributionKey solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seed2ZToken, distributionKey.Bytes()}, programID)
}
