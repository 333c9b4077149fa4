// Package telemetry turns raw latency sample accounts into per-circuit
// statistics consumed by the Shapley input builder.
package telemetry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/gagliardetto/solana-go"

	dztelemetry "github.com/malbeclabs/doublezero-offchain/sdk/telemetry"
)

// validSampleFloor separates real RTT measurements from zero-filled
// losses and float noise. Samples at or below it are missing data.
const validSampleFloor = 1e-10

// Stat is the per-circuit aggregate over one epoch's samples.
type Stat struct {
	Circuit            string
	OriginExchangePK   solana.PublicKey
	TargetExchangePK   solana.PublicKey
	OriginExchangeCode string
	TargetExchangeCode string
	LinkPK             solana.PublicKey
	TotalSamples       int
	ValidSamples       int
	MissingDataRatio   float64
	RTTMeanUs          float64
	RTTP95Us           float64
}

// StatMap keys circuit statistics by circuit key.
type StatMap map[string]Stat

// DeviceCircuitKey identifies a directed device circuit.
func DeviceCircuitKey(origin, target solana.PublicKey) string {
	return fmt.Sprintf("%s→%s", origin, target)
}

// InternetCircuitKey identifies a directed internet circuit between
// exchanges.
func InternetCircuitKey(origin, target solana.PublicKey) string {
	return fmt.Sprintf("%s→%s", origin, target)
}

// computeStat filters invalid samples and computes the aggregate.
func computeStat(samples []uint32) (total, valid int, missingRatio, meanUs, p95Us float64) {
	total = len(samples)
	validValues := make([]float64, 0, total)
	var sum float64
	for _, raw := range samples {
		v := float64(raw)
		if v > validSampleFloor {
			validValues = append(validValues, v)
			sum += v
		}
	}
	valid = len(validValues)
	if total > 0 {
		missingRatio = 1 - float64(valid)/float64(total)
	}
	if valid == 0 {
		return total, valid, missingRatio, 0, 0
	}
	sort.Float64s(validValues)
	meanUs = sum / float64(valid)
	p95Us = QuantileR7(validValues, 0.95)
	return total, valid, missingRatio, meanUs, p95Us
}

// ExchangeResolver maps exchange account keys to exchange codes. Circuits
// whose endpoints do not resolve are dropped, never defaulted.
type ExchangeResolver func(pk solana.PublicKey) (string, bool)

// ProcessDeviceSamples aggregates device latency sample accounts into
// per-circuit statistics. The exchange of each endpoint device resolves
// through the origin/target device's exchange.
func ProcessDeviceSamples(log *slog.Logger, samples []*dztelemetry.DeviceLatencySamples, deviceExchange func(devicePK solana.PublicKey) (solana.PublicKey, bool), resolve ExchangeResolver) StatMap {
	stats := make(StatMap)
	for _, account := range samples {
		origin := solana.PublicKeyFromBytes(account.OriginDevicePK[:])
		target := solana.PublicKeyFromBytes(account.TargetDevicePK[:])

		originExchange, ok := deviceExchange(origin)
		if !ok {
			log.Debug("Dropping device circuit with unknown origin device", "device", origin.String())
			continue
		}
		targetExchange, ok := deviceExchange(target)
		if !ok {
			log.Debug("Dropping device circuit with unknown target device", "device", target.String())
			continue
		}
		originCode, ok := resolve(originExchange)
		if !ok {
			log.Debug("Dropping device circuit with unmapped origin exchange", "exchange", originExchange.String())
			continue
		}
		targetCode, ok := resolve(targetExchange)
		if !ok {
			log.Debug("Dropping device circuit with unmapped target exchange", "exchange", targetExchange.String())
			continue
		}

		key := DeviceCircuitKey(origin, target)
		total, valid, missing, mean, p95 := computeStat(account.Samples)
		stats[key] = Stat{
			Circuit:            key,
			OriginExchangePK:   originExchange,
			TargetExchangePK:   targetExchange,
			OriginExchangeCode: originCode,
			TargetExchangeCode: targetCode,
			LinkPK:             solana.PublicKeyFromBytes(account.LinkPK[:]),
			TotalSamples:       total,
			ValidSamples:       valid,
			MissingDataRatio:   missing,
			RTTMeanUs:          mean,
			RTTP95Us:           p95,
		}
	}
	return stats
}

// ProcessInternetSamples aggregates internet latency sample accounts
// into per-circuit statistics keyed by exchange pair.
func ProcessInternetSamples(log *slog.Logger, samples []*dztelemetry.InternetLatencySamples, resolve ExchangeResolver) StatMap {
	stats := make(StatMap)
	for _, account := range samples {
		origin := solana.PublicKeyFromBytes(account.OriginExchangePK[:])
		target := solana.PublicKeyFromBytes(account.TargetExchangePK[:])

		originCode, ok := resolve(origin)
		if !ok {
			log.Debug("Dropping internet circuit with unmapped origin exchange", "exchange", origin.String())
			continue
		}
		targetCode, ok := resolve(target)
		if !ok {
			log.Debug("Dropping internet circuit with unmapped target exchange", "exchange", target.String())
			continue
		}

		key := InternetCircuitKey(origin, target)
		total, valid, missing, mean, p95 := computeStat(account.Samples)

		// Multiple provider accounts can exist for the same circuit;
		// merge by pooling counts and averaging the aggregates.
		if existing, ok := stats[key]; ok {
			mergedTotal := existing.TotalSamples + total
			mergedValid := existing.ValidSamples + valid
			var mergedMissing float64
			if mergedTotal > 0 {
				mergedMissing = 1 - float64(mergedValid)/float64(mergedTotal)
			}
			stats[key] = Stat{
				Circuit:            key,
				OriginExchangePK:   origin,
				TargetExchangePK:   target,
				OriginExchangeCode: originCode,
				TargetExchangeCode: targetCode,
				TotalSamples:       mergedTotal,
				ValidSamples:       mergedValid,
				MissingDataRatio:   mergedMissing,
				RTTMeanUs:          (existing.RTTMeanUs + mean) / 2,
				RTTP95Us:           (existing.RTTP95Us + p95) / 2,
			}
			continue
		}

		stats[key] = Stat{
			Circuit:            key,
			OriginExchangePK:   origin,
			TargetExchangePK:   target,
			OriginExchangeCode: originCode,
			TargetExchangeCode: targetCode,
			TotalSamples:       total,
			ValidSamples:       valid,
			MissingDataRatio:   missing,
			RTTMeanUs:          mean,
			RTTP95Us:           p95,
		}
	}
	return stats
}
