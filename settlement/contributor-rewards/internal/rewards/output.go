// Package rewards turns the aggregated Shapley result into the committed
// reward artifacts: ledger records, the merkle root, and the staged
// distribution configuration.
package rewards

import (
	"fmt"
	"math"
	"sort"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/doublezero-offchain/sdk/revdist"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/shapley"
)

// TotalUnitShares is the fixed-point denominator reward proportions are
// quantised to on-chain.
const TotalUnitShares uint32 = 1_000_000_000

// BuildShapleyOutputStorage quantises aggregated proportions into unit
// shares summing exactly to TotalUnitShares, ordered lexicographically
// by contributor key. Rounding drift lands on the largest share.
func BuildShapleyOutputStorage(epoch uint64, aggregated map[string]shapley.AggregatedValue, economicBurnRate uint32) (*revdist.ShapleyOutputStorage, error) {
	if len(aggregated) == 0 {
		return nil, fmt.Errorf("no aggregated shapley output for epoch %d", epoch)
	}

	storage := &revdist.ShapleyOutputStorage{
		Epoch:           epoch,
		TotalUnitShares: TotalUnitShares,
	}
	for operator, value := range aggregated {
		key, err := solana.PublicKeyFromBase58(operator)
		if err != nil {
			return nil, fmt.Errorf("operator %q is not a valid public key: %w", operator, err)
		}
		unitShare := uint32(math.Round(value.Proportion * float64(TotalUnitShares)))
		storage.Rewards = append(storage.Rewards, revdist.RewardShare{
			ContributorKey: key,
			UnitShare:      unitShare,
			Packed:         revdist.PackRewardShareFlags(economicBurnRate, false),
		})
	}
	storage.SortRewards()

	// Pin the quantisation drift on the largest share so the total is
	// exact.
	var sum int64
	largest := 0
	for i, share := range storage.Rewards {
		sum += int64(share.UnitShare)
		if share.UnitShare > storage.Rewards[largest].UnitShare {
			largest = i
		}
	}
	drift := int64(TotalUnitShares) - sum
	adjusted := int64(storage.Rewards[largest].UnitShare) + drift
	if adjusted < 0 {
		return nil, fmt.Errorf("unit share drift %d exceeds largest share", drift)
	}
	storage.Rewards[largest].UnitShare = uint32(adjusted)

	return storage, nil
}

// RewardInput is the borsh-encoded record of everything that went into a
// reward calculation, persisted alongside the output for audit.
type RewardInput struct {
	Epoch             uint64
	OperatorUptime    float64
	ContiguityBonus   float64
	DemandMultiplier  float64
	DeviceCount       uint32
	PrivateLinkCount  uint32
	PublicLinkCount   uint32
	DemandCount       uint32
	CityCount         uint32
	DeviceTelemetryBytes  uint64
	InternetTelemetryBytes uint64
}

// NewRewardInput summarises the inputs of one calculation.
func NewRewardInput(epoch uint64, settings shapley.Settings, inputs *shapley.Inputs, devicePayload, internetPayload int) RewardInput {
	return RewardInput{
		Epoch:                  epoch,
		OperatorUptime:         settings.OperatorUptime,
		ContiguityBonus:        settings.ContiguityBonus,
		DemandMultiplier:       settings.DemandMultiplier,
		DeviceCount:            uint32(len(inputs.Devices)),
		PrivateLinkCount:       uint32(len(inputs.PrivateLinks)),
		PublicLinkCount:        uint32(len(inputs.PublicLinks)),
		DemandCount:            uint32(len(inputs.Demands)),
		CityCount:              uint32(len(inputs.CityWeights)),
		DeviceTelemetryBytes:   uint64(devicePayload),
		InternetTelemetryBytes: uint64(internetPayload),
	}
}

// TelemetryAggregate is the borsh wire form of one circuit's statistics,
// persisted to the ledger for downstream consumers.
type TelemetryAggregate struct {
	Circuit          string
	OriginExchange   solana.PublicKey
	TargetExchange   solana.PublicKey
	TotalSamples     uint64
	ValidSamples     uint64
	MissingDataRatio float64
	RTTMeanUs        float64
	RTTP95Us         float64
}

// SortAggregates orders aggregates by circuit key for a stable record
// payload.
func SortAggregates(aggregates []TelemetryAggregate) {
	sort.Slice(aggregates, func(i, j int) bool {
		return aggregates[i].Circuit < aggregates[j].Circuit
	})
}
