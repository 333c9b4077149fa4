package shapley

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/doublezero-offchain/sdk/serviceability"
	dztelemetry "github.com/malbeclabs/doublezero-offchain/sdk/telemetry"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/telemetry"
)

const (
	// minValidSamples is the floor below which a private link carries too
	// little telemetry to be trusted; a link needs strictly more.
	minValidSamples = 20

	// validSampleFloor mirrors the telemetry processor's cutoff.
	validSampleFloor = 1e-10

	bitsPerGigabit = 1_000_000_000
)

// BuilderConfig tunes the input construction.
type BuilderConfig struct {
	Log                       *slog.Logger
	IsMainnet                 bool
	MissingDataThreshold      float64
	EnablePreviousEpochLookup bool
	DefaultEdgeBandwidth      float64
}

// PreviousEpochCache holds the prior epoch's internet circuit stats for
// missing-data substitution.
type PreviousEpochCache struct {
	InternetStats telemetry.StatMap
}

// InternetCircuitMeanUs returns the previous epoch's mean RTT for the
// circuit key, if cached.
func (c *PreviousEpochCache) InternetCircuitMeanUs(circuitKey string) (float64, bool) {
	if c == nil || c.InternetStats == nil {
		return 0, false
	}
	stat, ok := c.InternetStats[circuitKey]
	if !ok {
		return 0, false
	}
	return stat.RTTMeanUs, true
}

// CityCode maps an exchange code to its city code. Testnet and devnet
// exchange codes carry a leading "x" that is not part of the city.
func CityCode(exchangeCode string, isMainnet bool) string {
	code := exchangeCode
	if !isMainnet {
		code = strings.TrimPrefix(code, "x")
	}
	return strings.ToUpper(code)
}

// DeviceIDMap maps device account keys to their CITY## labels.
type DeviceIDMap map[solana.PublicKey]string

// BuildDevices assigns deterministic CITY## labels: devices are grouped
// by contributor (preserving on-chain order within each group), then
// numbered sequentially within each uppercase city code. Devices whose
// contributor or exchange cannot be resolved are skipped.
func BuildDevices(cfg BuilderConfig, data *serviceability.ProgramData) ([]Device, DeviceIDMap) {
	contributorByPK := make(map[solana.PublicKey]*serviceability.Contributor, len(data.Contributors))
	for i := range data.Contributors {
		contributorByPK[data.Contributors[i].PubKey] = &data.Contributors[i]
	}
	exchangeByPK := make(map[solana.PublicKey]*serviceability.Exchange, len(data.Exchanges))
	for i := range data.Exchanges {
		exchangeByPK[data.Exchanges[i].PubKey] = &data.Exchanges[i]
	}

	type deviceEntry struct {
		pk          solana.PublicKey
		contributor solana.PublicKey
		city        string
		owner       string
	}
	var entries []deviceEntry
	for _, device := range data.Devices {
		contributor, ok := contributorByPK[device.ContributorPubKey]
		if !ok {
			cfg.Log.Debug("Skipping device without contributor", "device", device.PubKey.String(), "code", device.Code)
			continue
		}
		exchange, ok := exchangeByPK[device.ExchangePubKey]
		if !ok {
			cfg.Log.Debug("Skipping device without exchange", "device", device.PubKey.String(), "code", device.Code)
			continue
		}
		entries = append(entries, deviceEntry{
			pk:          device.PubKey,
			contributor: device.ContributorPubKey,
			city:        CityCode(exchange.Code, cfg.IsMainnet),
			owner:       contributor.OwnerKey().String(),
		})
	}

	// Stable sort by the contributor key's raw bytes only, preserving
	// on-chain order within each contributor group.
	sort.SliceStable(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].contributor[:], entries[j].contributor[:]) < 0
	})

	devices := make([]Device, 0, len(entries))
	ids := make(DeviceIDMap, len(entries))
	cityCounts := make(map[string]int)
	for _, entry := range entries {
		cityCounts[entry.city]++
		label := fmt.Sprintf("%s%02d", entry.city, cityCounts[entry.city])
		ids[entry.pk] = label
		devices = append(devices, Device{
			Device:   label,
			Edge:     cfg.DefaultEdgeBandwidth,
			Operator: entry.owner,
		})
	}
	return devices, ids
}

// BuildPrivateLinks constructs the private link set: only activated
// links between activated devices survive, all raw samples across both
// directions of a link are pooled, links with 20 or fewer valid samples
// are dropped, and the observed uptime goes through the penalty curve.
func BuildPrivateLinks(cfg BuilderConfig, data *serviceability.ProgramData, ids DeviceIDMap, samples []*dztelemetry.DeviceLatencySamples) []PrivateLink {
	deviceByPK := make(map[solana.PublicKey]*serviceability.Device, len(data.Devices))
	for i := range data.Devices {
		deviceByPK[data.Devices[i].PubKey] = &data.Devices[i]
	}

	// Pool samples by link key regardless of direction.
	type pool struct {
		valid []float64
		total int
	}
	pools := make(map[solana.PublicKey]*pool)
	for _, account := range samples {
		linkPK := solana.PublicKeyFromBytes(account.LinkPK[:])
		p, ok := pools[linkPK]
		if !ok {
			p = &pool{}
			pools[linkPK] = p
		}
		for _, raw := range account.Samples {
			p.total++
			if v := float64(raw); v > validSampleFloor {
				p.valid = append(p.valid, v)
			}
		}
	}

	var links []PrivateLink
	for _, link := range data.Links {
		if link.Status != serviceability.LinkStatusActivated {
			continue
		}
		sideA, okA := deviceByPK[link.SideAPubKey]
		sideZ, okZ := deviceByPK[link.SideZPubKey]
		if !okA || !okZ || sideA.Status != serviceability.DeviceStatusActivated || sideZ.Status != serviceability.DeviceStatusActivated {
			continue
		}
		fromID, ok := ids[link.SideAPubKey]
		if !ok {
			continue
		}
		toID, ok := ids[link.SideZPubKey]
		if !ok {
			continue
		}

		p := pools[link.PubKey]
		if p == nil || len(p.valid) <= minValidSamples {
			count := 0
			if p != nil {
				count = len(p.valid)
			}
			cfg.Log.Info("Skipping private circuit with insufficient valid samples",
				"from", sideA.Code, "to", sideZ.Code, "validSamples", count)
			continue
		}

		sort.Float64s(p.valid)
		latencyMs := telemetry.QuantileR7(p.valid, 0.95) / 1000

		trueUptime := float64(len(p.valid)) / float64(p.total)
		uptime := PenalisedUptime(trueUptime)
		if uptime < 1.0 {
			cfg.Log.Info("Private circuit uptime penalised",
				"from", sideA.Code, "to", sideZ.Code,
				"trueUptime", trueUptime, "penalisedUptime", uptime)
		}

		links = append(links, PrivateLink{
			Device1:   fromID,
			Device2:   toID,
			LatencyMs: latencyMs,
			Bandwidth: float64(link.Bandwidth) / bitsPerGigabit,
			Uptime:    uptime,
		})
	}
	return links
}

// BuildPublicLinks aggregates internet circuit statistics onto canonical
// city pairs. Circuits whose missing-data ratio exceeds the threshold
// substitute the previous epoch's mean when available and enabled;
// otherwise the current P95 stands. Latencies within a pair average
// arithmetically; output is sorted by pair.
func BuildPublicLinks(cfg BuilderConfig, internetStats telemetry.StatMap, data *serviceability.ProgramData, prev *PreviousEpochCache) []PublicLink {
	exchangeToCity := make(map[solana.PublicKey]string, len(data.Exchanges))
	for _, exchange := range data.Exchanges {
		exchangeToCity[exchange.PubKey] = CityCode(exchange.Code, cfg.IsMainnet)
	}

	type cityPair struct{ a, b string }
	pairLatencies := make(map[cityPair][]float64)

	for circuitKey, stat := range internetStats {
		originCity, ok := exchangeToCity[stat.OriginExchangePK]
		if !ok {
			cfg.Log.Debug("No city mapping for origin exchange", "exchange", stat.OriginExchangeCode)
			continue
		}
		targetCity, ok := exchangeToCity[stat.TargetExchangePK]
		if !ok {
			cfg.Log.Debug("No city mapping for target exchange", "exchange", stat.TargetExchangeCode)
			continue
		}

		latencyUs := stat.RTTP95Us
		if stat.MissingDataRatio > cfg.MissingDataThreshold && cfg.EnablePreviousEpochLookup {
			if prevMean, ok := prev.InternetCircuitMeanUs(circuitKey); ok {
				cfg.Log.Info("Circuit exceeds missing-data threshold, using previous epoch mean",
					"circuit", stat.Circuit, "missingRatio", stat.MissingDataRatio, "previousMeanUs", prevMean)
				latencyUs = prevMean
			} else {
				cfg.Log.Info("Circuit exceeds missing-data threshold, no previous epoch data, using current p95",
					"circuit", stat.Circuit, "missingRatio", stat.MissingDataRatio)
			}
		}

		pair := cityPair{originCity, targetCity}
		if pair.b < pair.a {
			pair.a, pair.b = pair.b, pair.a
		}
		pairLatencies[pair] = append(pairLatencies[pair], latencyUs/1000)
	}

	links := make([]PublicLink, 0, len(pairLatencies))
	for pair, latencies := range pairLatencies {
		var sum float64
		for _, l := range latencies {
			sum += l
		}
		links = append(links, PublicLink{
			City1:     pair.a,
			City2:     pair.b,
			LatencyMs: sum / float64(len(latencies)),
		})
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].City1 != links[j].City1 {
			return links[i].City1 < links[j].City1
		}
		return links[i].City2 < links[j].City2
	})
	return links
}

// BuildDemands derives the all-pairs demand matrix from the city stats:
// every city with validators demands delivery from every other city,
// with receiver counts from the destination and priority from the
// origin's share of the stake proxy.
func BuildDemands(cityStats map[string]CityStat) []Demand {
	cities := make([]string, 0, len(cityStats))
	var totalStake float64
	for city, stat := range cityStats {
		cities = append(cities, city)
		totalStake += float64(stat.TotalStakeProxy)
	}
	sort.Strings(cities)

	var demands []Demand
	for _, origin := range cities {
		originStat := cityStats[origin]
		if originStat.ValidatorCount == 0 {
			continue
		}
		priority := 1.0
		if totalStake > 0 {
			priority = float64(originStat.TotalStakeProxy) / totalStake
		}
		for _, dest := range cities {
			if dest == origin {
				continue
			}
			destStat := cityStats[dest]
			if destStat.ValidatorCount == 0 {
				continue
			}
			demands = append(demands, Demand{
				Start:     origin,
				End:       dest,
				Receivers: destStat.ValidatorCount,
				Traffic:   1,
				Priority:  priority,
				Kind:      1,
				Multicast: false,
			})
		}
	}
	return demands
}
