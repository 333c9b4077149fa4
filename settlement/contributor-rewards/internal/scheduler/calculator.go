package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/doublezero-offchain/sdk/revdist"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/fetch"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/rewards"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/shapley"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/telemetry"
)

// Calculator turns a snapshot into the committed reward artifacts.
type Calculator struct {
	log          *slog.Logger
	orchestrator *shapley.Orchestrator
	builderCfg   shapley.BuilderConfig
	settings     shapley.Settings
}

func NewCalculator(log *slog.Logger, orchestrator *shapley.Orchestrator, builderCfg shapley.BuilderConfig, settings shapley.Settings) *Calculator {
	return &Calculator{
		log:          log,
		orchestrator: orchestrator,
		builderCfg:   builderCfg,
		settings:     settings,
	}
}

// Artifacts is a fully-computed epoch result, ready to persist.
type Artifacts struct {
	Epoch              uint64
	Inputs             *shapley.Inputs
	Result             *shapley.Result
	Storage            *revdist.ShapleyOutputStorage
	MerkleRoot         [32]byte
	DeviceAggregates   []rewards.TelemetryAggregate
	InternetAggregates []rewards.TelemetryAggregate
	Input              rewards.RewardInput
}

// Calculate runs telemetry aggregation, input construction, the Shapley
// computation, and merkle commitment for the snapshot's epoch.
func (c *Calculator) Calculate(ctx context.Context, snapshot *fetch.Snapshot, prev *shapley.PreviousEpochCache, economicBurnRate uint32) (*Artifacts, error) {
	data := snapshot.FetchData
	if data.Serviceability == nil {
		return nil, fmt.Errorf("snapshot for epoch %d has no serviceability data", snapshot.DZEpoch)
	}

	exchangeCodes := make(map[solana.PublicKey]string, len(data.Serviceability.Exchanges))
	for _, exchange := range data.Serviceability.Exchanges {
		exchangeCodes[exchange.PubKey] = exchange.Code
	}
	resolve := func(pk solana.PublicKey) (string, bool) {
		code, ok := exchangeCodes[pk]
		return code, ok
	}
	deviceExchange := func(devicePK solana.PublicKey) (solana.PublicKey, bool) {
		for _, device := range data.Serviceability.Devices {
			if device.PubKey.Equals(devicePK) {
				return device.ExchangePubKey, true
			}
		}
		return solana.PublicKey{}, false
	}

	deviceStats := telemetry.ProcessDeviceSamples(c.log, data.DeviceSamples, deviceExchange, resolve)
	internetStats := telemetry.ProcessInternetSamples(c.log, data.InternetSamples, resolve)

	devices, deviceIDs := shapley.BuildDevices(c.builderCfg, data.Serviceability)
	privateLinks := shapley.BuildPrivateLinks(c.builderCfg, data.Serviceability, deviceIDs, data.DeviceSamples)
	publicLinks := shapley.BuildPublicLinks(c.builderCfg, internetStats, data.Serviceability, prev)
	cityStats := fetch.CityStats(data.Serviceability, c.builderCfg.IsMainnet)
	demands := shapley.BuildDemands(cityStats)

	inputs := &shapley.Inputs{
		Devices:      devices,
		PrivateLinks: privateLinks,
		PublicLinks:  publicLinks,
		Demands:      demands,
		CityStats:    cityStats,
		CityWeights:  shapley.CalculateCityWeights(cityStats),
	}

	result, err := c.orchestrator.Compute(ctx, inputs, c.settings)
	if err != nil {
		return nil, fmt.Errorf("shapley computation for epoch %d: %w", snapshot.DZEpoch, err)
	}

	storage, err := rewards.BuildShapleyOutputStorage(snapshot.DZEpoch, result.Aggregated, economicBurnRate)
	if err != nil {
		return nil, err
	}
	root, err := storage.MerkleRoot()
	if err != nil {
		return nil, fmt.Errorf("building rewards merkle root: %w", err)
	}

	deviceAggregates := statsToAggregates(deviceStats)
	internetAggregates := statsToAggregates(internetStats)

	input := rewards.NewRewardInput(snapshot.DZEpoch, c.settings, inputs, len(deviceAggregates), len(internetAggregates))

	c.log.Info("Reward calculation complete",
		"epoch", snapshot.DZEpoch,
		"operators", len(result.Aggregated),
		"cities", len(result.PerCity),
		"merkleRoot", fmt.Sprintf("%x", root))

	return &Artifacts{
		Epoch:              snapshot.DZEpoch,
		Inputs:             inputs,
		Result:             result,
		Storage:            storage,
		MerkleRoot:         root,
		DeviceAggregates:   deviceAggregates,
		InternetAggregates: internetAggregates,
		Input:              input,
	}, nil
}

// BuildPreviousEpochCache processes a prior epoch's snapshot into the
// internet-circuit cache used for missing-data substitution.
func (c *Calculator) BuildPreviousEpochCache(snapshot *fetch.Snapshot) *shapley.PreviousEpochCache {
	if snapshot == nil || snapshot.FetchData.Serviceability == nil {
		return nil
	}
	data := snapshot.FetchData
	exchangeCodes := make(map[solana.PublicKey]string, len(data.Serviceability.Exchanges))
	for _, exchange := range data.Serviceability.Exchanges {
		exchangeCodes[exchange.PubKey] = exchange.Code
	}
	resolve := func(pk solana.PublicKey) (string, bool) {
		code, ok := exchangeCodes[pk]
		return code, ok
	}
	return &shapley.PreviousEpochCache{
		InternetStats: telemetry.ProcessInternetSamples(c.log, data.InternetSamples, resolve),
	}
}

func statsToAggregates(stats telemetry.StatMap) []rewards.TelemetryAggregate {
	aggregates := make([]rewards.TelemetryAggregate, 0, len(stats))
	for _, stat := range stats {
		aggregates = append(aggregates, rewards.TelemetryAggregate{
			Circuit:          stat.Circuit,
			OriginExchange:   stat.OriginExchangePK,
			TargetExchange:   stat.TargetExchangePK,
			TotalSamples:     uint64(stat.TotalSamples),
			ValidSamples:     uint64(stat.ValidSamples),
			MissingDataRatio: stat.MissingDataRatio,
			RTTMeanUs:        stat.RTTMeanUs,
			RTTP95Us:         stat.RTTP95Us,
		})
	}
	rewards.SortAggregates(aggregates)
	return aggregates
}
