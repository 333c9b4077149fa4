// Package fetch assembles all on-chain inputs for one epoch's reward
// calculation and defines the snapshot bundle persisted for replay.
package fetch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/malbeclabs/doublezero-offchain/sdk/serviceability"
	dztelemetry "github.com/malbeclabs/doublezero-offchain/sdk/telemetry"
)

// Data is everything fetched for one DZ epoch.
type Data struct {
	Serviceability  *serviceability.ProgramData          `json:"dz_serviceability"`
	DeviceSamples   []*dztelemetry.DeviceLatencySamples  `json:"device_latency_samples"`
	InternetSamples []*dztelemetry.InternetLatencySamples `json:"internet_latency_samples"`
	StartUs         uint64                               `json:"start_us"`
	EndUs           uint64                               `json:"end_us"`
}

// Metadata describes a snapshot for humans and dashboards.
type Metadata struct {
	CreatedAt            string `json:"created_at"`
	Network              string `json:"network"`
	ExchangesCount       int    `json:"exchanges_count"`
	LocationsCount       int    `json:"locations_count"`
	DevicesCount         int    `json:"devices_count"`
	InternetSamplesCount int    `json:"internet_samples_count"`
	DeviceSamplesCount   int    `json:"device_samples_count"`
}

// Snapshot is the durable bundle of a complete epoch fetch.
type Snapshot struct {
	DZEpoch        uint64              `json:"dz_epoch"`
	SolanaEpoch    *uint64             `json:"solana_epoch,omitempty"`
	FetchData      Data                `json:"fetch_data"`
	LeaderSchedule map[string][]uint64 `json:"leader_schedule,omitempty"`
	Metadata       Metadata            `json:"metadata"`
}

// NewSnapshot assembles a snapshot with populated metadata.
func NewSnapshot(dzEpoch uint64, solanaEpoch *uint64, data Data, leaderSchedule map[string][]uint64, network string, createdAt time.Time) *Snapshot {
	meta := Metadata{
		CreatedAt:            createdAt.UTC().Format(time.RFC3339),
		Network:              network,
		InternetSamplesCount: len(data.InternetSamples),
		DeviceSamplesCount:   len(data.DeviceSamples),
	}
	if data.Serviceability != nil {
		meta.ExchangesCount = len(data.Serviceability.Exchanges)
		meta.LocationsCount = len(data.Serviceability.Locations)
		meta.DevicesCount = len(data.Serviceability.Devices)
	}
	return &Snapshot{
		DZEpoch:        dzEpoch,
		SolanaEpoch:    solanaEpoch,
		FetchData:      data,
		LeaderSchedule: leaderSchedule,
		Metadata:       meta,
	}
}

// Filename is the canonical snapshot name for an epoch:
// {networkPrefix}-epoch-{epoch}-snapshot.json.
func Filename(networkPrefix string, epoch uint64) string {
	return fmt.Sprintf("%s-epoch-%d-snapshot.json", networkPrefix, epoch)
}

// Marshal renders the snapshot as pretty JSON, the on-disk format.
func (s *Snapshot) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// UnmarshalSnapshot parses a snapshot from its JSON form.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &snapshot, nil
}
