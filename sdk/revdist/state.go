package revdist

import (
	"github.com/gagliardetto/solana-go"
)

// Distribution flag bits.
const (
	distributionFlagDebtFinalized    = 1 << 0
	distributionFlagRewardsFinalized = 1 << 1
	distributionFlagSwept2ZTokens    = 1 << 2
	distributionFlagWriteOffEnabled  = 1 << 3
)

// ProgramConfig flag bits.
const (
	configFlagPaused = 1 << 0
)

// ProgramConfig represents the on-chain program configuration account.
// On-chain size: 8 (discriminator) + 600 = 608 bytes.
type ProgramConfig struct {
	Flags                                uint64
	NextCompletedDZEpoch                 uint64
	BumpSeed                             uint8
	Reserve2ZBumpSeed                    uint8
	SwapAuthorityBumpSeed                uint8
	SwapDestination2ZBumpSeed            uint8
	WithdrawSOLAuthorityBumpSeed         uint8
	Reserved0                            [3]uint8
	AdminKey                             solana.PublicKey
	DebtAccountantKey                    solana.PublicKey
	RewardsAccountantKey                 solana.PublicKey
	ContributorManagerKey                solana.PublicKey
	PlaceholderKey                       solana.PublicKey
	SOL2ZSwapProgramID                   solana.PublicKey
	DistributionParameters               DistributionParameters
	RelayParameters                      RelayParameters
	LastInitializedDistributionTimestamp uint32
	Reserved1                            [4]byte
	DebtWriteOffFeatureActivationEpoch   uint64
}

// IsPaused reports whether the program is administratively paused.
func (c *ProgramConfig) IsPaused() bool {
	return c.Flags&configFlagPaused != 0
}

// IsDebtWriteOffFeatureActivated reports whether write-offs are live for
// the given epoch.
func (c *ProgramConfig) IsDebtWriteOffFeatureActivated(epoch uint64) bool {
	return c.DebtWriteOffFeatureActivationEpoch != 0 && epoch >= c.DebtWriteOffFeatureActivationEpoch
}

// DistributionParameters contains epoch distribution configuration.
// 328 bytes total.
type DistributionParameters struct {
	CalculationGracePeriodMinutes         uint16
	InitializationGracePeriodMinutes      uint16
	MinimumEpochDurationToFinalizeRewards uint8
	Reserved0                             [3]uint8
	CommunityBurnRateParameters           CommunityBurnRateParameters
	SolanaValidatorFeeParameters          SolanaValidatorFeeParameters
	Reserved1                             [8][32]byte
}

// CommunityBurnRateParameters configures the community burn rate schedule.
// 24 bytes total.
type CommunityBurnRateParameters struct {
	Limit                  uint32 // BurnRate (UnitShare32), max 1_000_000_000
	DZEpochsToIncreasing   uint32
	DZEpochsToLimit        uint32
	CachedSlopeNumerator   uint32
	CachedSlopeDenominator uint32
	CachedNextBurnRate     uint32
}

// SolanaValidatorFeeParameters configures validator fee percentages in
// basis points (UnitShare16, max 10_000) plus a fixed lamport amount.
// 40 bytes total.
type SolanaValidatorFeeParameters struct {
	BaseBlockRewardsPct     uint16
	PriorityBlockRewardsPct uint16
	InflationRewardsPct     uint16
	JitoTipsPct             uint16
	FixedSOLAmount          uint32
	Reserved0               [7]uint32
}

// ApplyPct scales amount by a UnitShare16 fee percentage.
func ApplyPct(pct uint16, amount uint64) uint64 {
	return amount * uint64(pct) / 10_000
}

// RelayParameters configures relay lamport amounts. 40 bytes total.
type RelayParameters struct {
	PlaceholderLamports       uint32
	DistributeRewardsLamports uint32
	Reserved0                 [32]byte
}

// Distribution represents a single epoch's distribution account.
// On-chain size: 8 (discriminator) + 448 = 456 bytes, followed by the
// processed-leaf bitmap area addressed by the start/end index windows.
type Distribution struct {
	DZEpoch                                        uint64
	Flags                                          uint64
	CommunityBurnRate                              uint32
	BumpSeed                                       uint8
	Token2ZPDABumpSeed                             uint8
	Reserved0                                      [2]byte
	SolanaValidatorFeeParameters                   SolanaValidatorFeeParameters
	SolanaValidatorDebtMerkleRoot                  [32]byte
	TotalSolanaValidators                          uint32
	SolanaValidatorPaymentsCount                   uint32
	TotalSolanaValidatorDebt                       uint64
	CollectedSolanaValidatorPayments               uint64
	RewardsMerkleRoot                              [32]byte
	TotalContributors                              uint32
	DistributedRewardsCount                        uint32
	CollectedPrepaid2ZPayments                     uint64
	Collected2ZConvertedFromSOL                    uint64
	UncollectibleSOLDebt                           uint64
	ProcessedSolanaValidatorDebtStartIndex         uint32
	ProcessedSolanaValidatorDebtEndIndex           uint32
	ProcessedRewardsStartIndex                     uint32
	ProcessedRewardsEndIndex                       uint32
	DistributeRewardsRelayLamports                 uint32
	CalculationAllowedTimestamp                    uint32
	Distributed2ZAmount                            uint64
	Burned2ZAmount                                 uint64
	ProcessedSolanaValidatorDebtWriteOffStartIndex uint32
	ProcessedSolanaValidatorDebtWriteOffEndIndex   uint32
	SolanaValidatorWriteOffCount                   uint32
	Reserved1                                      [20]byte
	Reserved2                                      [6][32]byte
}

func (d *Distribution) IsDebtCalculationFinalized() bool {
	return d.Flags&distributionFlagDebtFinalized != 0
}

func (d *Distribution) IsRewardsCalculationFinalized() bool {
	return d.Flags&distributionFlagRewardsFinalized != 0
}

func (d *Distribution) HasSwept2ZTokens() bool {
	return d.Flags&distributionFlagSwept2ZTokens != 0
}

func (d *Distribution) IsSolanaValidatorDebtWriteOffEnabled() bool {
	return d.Flags&distributionFlagWriteOffEnabled != 0
}

// HasZeroDebt reports whether no debt root was ever staged.
func (d *Distribution) HasZeroDebt() bool {
	return d.SolanaValidatorDebtMerkleRoot == [32]byte{}
}

// RemainingSOLDebt is the SOL debt still owed: total minus payments
// collected and write-offs, saturating at zero.
func (d *Distribution) RemainingSOLDebt() uint64 {
	accounted := d.CollectedSolanaValidatorPayments + d.UncollectibleSOLDebt
	if accounted >= d.TotalSolanaValidatorDebt {
		return 0
	}
	return d.TotalSolanaValidatorDebt - accounted
}

// IsAllSolanaValidatorDebtProcessed reports whether every committed debt
// leaf has been paid or written off.
func (d *Distribution) IsAllSolanaValidatorDebtProcessed() bool {
	processed := d.SolanaValidatorPaymentsCount + d.SolanaValidatorWriteOffCount
	return d.TotalSolanaValidators > 0 && processed >= d.TotalSolanaValidators
}

// DebtBitmapRange returns the [start, end) window into the trailing byte
// area holding the paid-leaf bitmap.
func (d *Distribution) DebtBitmapRange() (int, int) {
	return int(d.ProcessedSolanaValidatorDebtStartIndex), int(d.ProcessedSolanaValidatorDebtEndIndex)
}

// WriteOffBitmapRange returns the [start, end) window for the written-off
// leaf bitmap.
func (d *Distribution) WriteOffBitmapRange() (int, int) {
	return int(d.ProcessedSolanaValidatorDebtWriteOffStartIndex), int(d.ProcessedSolanaValidatorDebtWriteOffEndIndex)
}

// RewardsBitmapRange returns the [start, end) window for the distributed
// rewards bitmap.
func (d *Distribution) RewardsBitmapRange() (int, int) {
	return int(d.ProcessedRewardsStartIndex), int(d.ProcessedRewardsEndIndex)
}

// SolanaValidatorDeposit represents a validator's deposit account.
// On-chain size: 8 (discriminator) + 96 = 104 bytes.
type SolanaValidatorDeposit struct {
	NodeID            solana.PublicKey
	WrittenOffSOLDebt uint64
	Reserved0         [24]byte
	Reserved1         [32]byte
}

// ContributorRewards represents a contributor's reward configuration.
// On-chain size: 8 (discriminator) + 600 = 608 bytes.
type ContributorRewards struct {
	RewardsManagerKey solana.PublicKey
	ServiceKey        solana.PublicKey
	Flags             uint64
	RecipientShares   RecipientShares
	Reserved0         [8][32]byte
}

// RecipientShare is a single reward recipient and their UnitShare16 share.
// 34 bytes.
type RecipientShare struct {
	RecipientKey solana.PublicKey
	Share        uint16
}

// RecipientShares is a fixed array of 8 RecipientShare entries. 272 bytes.
type RecipientShares [8]RecipientShare

// Active returns the recipients with a non-zero share.
func (r RecipientShares) Active() []RecipientShare {
	var out []RecipientShare
	for _, share := range r {
		if share.Share > 0 && !share.RecipientKey.IsZero() {
			out = append(out, share)
		}
	}
	return out
}

// Journal tracks aggregate balances across the program.
// On-chain size: 8 (discriminator) + 64 = 72 bytes.
type Journal struct {
	BumpSeed                 uint8
	Token2ZPDABumpSeed       uint8
	Reserved0                [6]byte
	TotalSOLBalance          uint64
	Total2ZBalance           uint64
	Swap2ZDestinationBalance uint64
	SwappedSOLAmount         uint64
	NextDZEpochToSweepTokens uint64
	LifetimeSwapped2ZAmount  [16]byte
}

// ComputedSolanaValidatorDebts is the Borsh-serialized off-chain record
// holding one epoch's validator debt calculation.
type ComputedSolanaValidatorDebts struct {
	Blockhash        [32]byte
	FirstSolanaEpoch uint64
	LastSolanaEpoch  uint64
	Debts            []ComputedSolanaValidatorDebt
}

// ComputedSolanaValidatorDebt is a single validator's calculated debt.
type ComputedSolanaValidatorDebt struct {
	NodeID solana.PublicKey
	Amount uint64
}

// ShapleyOutputStorage is the Borsh-serialized off-chain record holding
// one epoch's contributor reward shares, ordered by contributor key.
type ShapleyOutputStorage struct {
	Epoch           uint64
	Rewards         []RewardShare
	TotalUnitShares uint32
}

// RewardShare is a contributor's calculated reward share. The packed
// field carries bit 31 = is_blocked and bits 0..29 = economic burn rate.
type RewardShare struct {
	ContributorKey solana.PublicKey
	UnitShare      uint32
	Packed         uint32
}

// EconomicBurnRate extracts the burn rate bits.
func (r RewardShare) EconomicBurnRate() uint32 {
	return r.Packed & 0x3FFF_FFFF
}

// IsBlocked reports whether the contributor is blocked from distribution.
func (r RewardShare) IsBlocked() bool {
	return r.Packed&0x8000_0000 != 0
}

// PackRewardShareFlags packs a burn rate and blocked flag into the wire
// representation.
func PackRewardShareFlags(economicBurnRate uint32, blocked bool) uint32 {
	packed := economicBurnRate & 0x3FFF_FFFF
	if blocked {
		packed |= 0x8000_0000
	}
	return packed
}
