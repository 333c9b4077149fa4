package revdist

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/doublezero-offchain/pkg/merkle"
)

// ComputeBudgetProgramID is the native compute budget program.
var ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// Per-instruction base compute unit costs.
const (
	computeUnitsPerBumpIteration = 1_500

	ComputeUnitsTransactionBase      = 5_000
	ComputeUnitsInitializeDeposit    = 10_000
	ComputeUnitsInitializeDistribution = 75_000
	ComputeUnitsEnableWriteOff       = 5_000
	ComputeUnitsFinalizeDebt         = 5_000
	ComputeUnitsFinalizeRewards      = 25_000
	ComputeUnitsPayDebtBase          = 20_000
	ComputeUnitsWriteOffBase         = 25_000
	ComputeUnitsDistributeBase       = 40_000
	ComputeUnitsPerProofSibling      = 600
	ComputeUnitsPerRecipient         = 12_000
	ComputeUnitsCreateATABase        = 20_000
)

// ComputeUnitsForBumpSeed is the compute cost of re-deriving a PDA with
// the given bump seed on-chain: one hash iteration per candidate bump
// walked down from 255.
func ComputeUnitsForBumpSeed(bump uint8) uint32 {
	return computeUnitsPerBumpIteration * uint32(255-bump)
}

// ComputeUnitsPayDebt is the budget for one PaySolanaValidatorDebt.
func ComputeUnitsPayDebt(proof merkle.Proof) uint32 {
	return ComputeUnitsPayDebtBase + ComputeUnitsPerProofSibling*uint32(len(proof.Siblings))
}

// ComputeUnitsWriteOffDebt is the budget for one WriteOffSolanaValidatorDebt.
func ComputeUnitsWriteOffDebt(proof merkle.Proof) uint32 {
	return ComputeUnitsWriteOffBase + ComputeUnitsPerProofSibling*uint32(len(proof.Siblings))
}

// BuildSetComputeUnitLimitInstruction caps the transaction's compute
// budget at the given number of units.
func BuildSetComputeUnitLimitInstruction(units uint32) solana.Instruction {
	data := make([]byte, 5)
	data[0] = 2 // SetComputeUnitLimit
	binary.LittleEndian.PutUint32(data[1:], units)
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

// BuildSetComputeUnitPriceInstruction sets the priority fee in
// micro-lamports per compute unit.
func BuildSetComputeUnitPriceInstruction(microLamports uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = 3 // SetComputeUnitPrice
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, data)
}
