package fetch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/malbeclabs/doublezero-offchain/pkg/retry"
	"github.com/malbeclabs/doublezero-offchain/sdk/serviceability"
	dztelemetry "github.com/malbeclabs/doublezero-offchain/sdk/telemetry"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/shapley"
)

// LedgerRPCClient reads epoch state from the DZ Ledger.
type LedgerRPCClient interface {
	GetEpochInfo(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetEpochInfoResult, error)
}

// ServiceabilityClient provides the network graph accounts.
type ServiceabilityClient interface {
	GetProgramData(ctx context.Context) (*serviceability.ProgramData, error)
}

// TelemetryClient provides the epoch's latency sample accounts.
type TelemetryClient interface {
	GetAllSamplesForEpoch(ctx context.Context, epoch uint64) ([]*dztelemetry.DeviceLatencySamples, []*dztelemetry.InternetLatencySamples, error)
}

// Fetcher pulls everything a reward calculation needs for one epoch.
type Fetcher struct {
	log            *slog.Logger
	ledger         LedgerRPCClient
	serviceability ServiceabilityClient
	telemetry      TelemetryClient
}

func NewFetcher(log *slog.Logger, ledger LedgerRPCClient, svc ServiceabilityClient, tel TelemetryClient) *Fetcher {
	return &Fetcher{log: log, ledger: ledger, serviceability: svc, telemetry: tel}
}

// CurrentEpoch returns the DZ Ledger's current epoch.
func (f *Fetcher) CurrentEpoch(ctx context.Context) (uint64, error) {
	info, err := retry.Do(ctx, func() (*solanarpc.GetEpochInfoResult, error) {
		return f.ledger.GetEpochInfo(ctx, solanarpc.CommitmentFinalized)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get DZ epoch info: %w", err)
	}
	return info.Epoch, nil
}

// Fetch pulls the serviceability graph and the epoch's telemetry.
func (f *Fetcher) Fetch(ctx context.Context, epoch uint64) (Data, error) {
	programData, err := retry.Do(ctx, func() (*serviceability.ProgramData, error) {
		return f.serviceability.GetProgramData(ctx)
	})
	if err != nil {
		return Data{}, fmt.Errorf("failed to fetch serviceability data: %w", err)
	}

	type samples struct {
		device   []*dztelemetry.DeviceLatencySamples
		internet []*dztelemetry.InternetLatencySamples
	}
	fetched, err := retry.Do(ctx, func() (samples, error) {
		device, internet, err := f.telemetry.GetAllSamplesForEpoch(ctx, epoch)
		return samples{device: device, internet: internet}, err
	})
	if err != nil {
		return Data{}, fmt.Errorf("failed to fetch telemetry samples for epoch %d: %w", epoch, err)
	}

	f.log.Info("Epoch data fetched",
		"epoch", epoch,
		"devices", len(programData.Devices),
		"links", len(programData.Links),
		"deviceSampleAccounts", len(fetched.device),
		"internetSampleAccounts", len(fetched.internet))

	data := Data{
		Serviceability:  programData,
		DeviceSamples:   fetched.device,
		InternetSamples: fetched.internet,
	}
	data.StartUs, data.EndUs = sampleTimeBounds(fetched.device)
	return data, nil
}

func sampleTimeBounds(samples []*dztelemetry.DeviceLatencySamples) (uint64, uint64) {
	var start, end uint64
	for _, account := range samples {
		if account.StartTimestampMicroseconds == 0 {
			continue
		}
		if start == 0 || account.StartTimestampMicroseconds < start {
			start = account.StartTimestampMicroseconds
		}
		span := account.StartTimestampMicroseconds + uint64(len(account.Samples))*account.SamplingIntervalMicroseconds
		if span > end {
			end = span
		}
	}
	return start, end
}

// CityStats derives the per-city validator statistics used for demand
// construction and weighting. User connections roll up through their
// device's exchange city; the stake proxy scales by the city's share of
// user connections.
func CityStats(data *serviceability.ProgramData, isMainnet bool) map[string]shapley.CityStat {
	exchangeCity := make(map[solana.PublicKey]string, len(data.Exchanges))
	for _, exchange := range data.Exchanges {
		exchangeCity[exchange.PubKey] = shapley.CityCode(exchange.Code, isMainnet)
	}

	stats := make(map[string]shapley.CityStat)
	for _, device := range data.Devices {
		if device.Status != serviceability.DeviceStatusActivated {
			continue
		}
		city, ok := exchangeCity[device.ExchangePubKey]
		if !ok {
			continue
		}
		stat := stats[city]
		stat.ValidatorCount += int(device.UsersCount)
		stat.TotalStakeProxy += uint64(device.UsersCount)
		stats[city] = stat
	}
	return stats
}
