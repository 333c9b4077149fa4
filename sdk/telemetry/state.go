// Package telemetry reads the telemetry program's latency sample
// accounts: device-to-device RTT samples written by device agents, and
// internet RTT samples written by the collector oracle.
package telemetry

import (
	"encoding/binary"
	"fmt"
	"math"
)

type AccountType uint8

const (
	AccountTypeDeviceLatencySamples   AccountType = 3
	AccountTypeInternetLatencySamples AccountType = 4
)

const (
	TelemetrySeedPrefix        = "telemetry"
	DeviceLatencySamplesSeed   = "dzlatency"
	InternetLatencySamplesSeed = "inetlatency"

	MaxDeviceLatencySamplesPerAccount   = 35_000
	MaxInternetLatencySamplesPerAccount = 3_000

	deviceLatencyHeaderSize = 1 + 8 + 32*6 + 8 + 8 + 4 + 128
)

// DeviceLatencySamples is one epoch's RTT samples for a single directed
// device circuit over one link. Samples are microseconds, zero meaning a
// lost probe.
type DeviceLatencySamples struct {
	AccountType                  AccountType
	Epoch                        uint64
	OriginDeviceAgentPK          [32]byte
	OriginDevicePK               [32]byte
	TargetDevicePK               [32]byte
	OriginDeviceLocationPK       [32]byte
	TargetDeviceLocationPK       [32]byte
	LinkPK                       [32]byte
	SamplingIntervalMicroseconds uint64
	StartTimestampMicroseconds   uint64
	NextSampleIndex              uint32
	Samples                      []uint32
}

// InternetLatencySamples is one epoch's RTT samples between two
// exchanges as observed from the public internet.
type InternetLatencySamples struct {
	AccountType                  AccountType
	Epoch                        uint64
	DataProviderName             string
	OracleAgentPK                [32]byte
	OriginExchangePK             [32]byte
	TargetExchangePK             [32]byte
	SamplingIntervalMicroseconds uint64
	StartTimestampMicroseconds   uint64
	NextSampleIndex              uint32
	Samples                      []uint32
}

type byteReader struct {
	data   []byte
	offset int
}

func (r *byteReader) remaining() int { return len(r.data) - r.offset }

func (r *byteReader) take(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("need %d bytes, have %d", n, r.remaining())
	}
	out := r.data[r.offset : r.offset+n]
	r.offset += n
	return out, nil
}

func (r *byteReader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *byteReader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *byteReader) pubkey() ([32]byte, error) {
	var out [32]byte
	b, err := r.take(32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

func (r *byteReader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if n > math.MaxInt32 {
		return "", fmt.Errorf("string length %d too large", n)
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *byteReader) samples(count, maxCount int) ([]uint32, error) {
	if count > maxCount {
		return nil, fmt.Errorf("next_sample_index %d exceeds max %d", count, maxCount)
	}
	out := make([]uint32, 0, count)
	for i := 0; i < count; i++ {
		if r.remaining() < 4 {
			break
		}
		v, err := r.u32()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// DeserializeDeviceLatencySamples decodes a device latency samples
// account.
func DeserializeDeviceLatencySamples(data []byte) (*DeviceLatencySamples, error) {
	if len(data) < deviceLatencyHeaderSize {
		return nil, fmt.Errorf("data too short for device latency header: %d < %d", len(data), deviceLatencyHeaderSize)
	}

	r := &byteReader{data: data}
	d := &DeviceLatencySamples{}

	v, err := r.u8()
	if err != nil {
		return nil, err
	}
	d.AccountType = AccountType(v)
	if d.Epoch, err = r.u64(); err != nil {
		return nil, err
	}
	if d.OriginDeviceAgentPK, err = r.pubkey(); err != nil {
		return nil, err
	}
	if d.OriginDevicePK, err = r.pubkey(); err != nil {
		return nil, err
	}
	if d.TargetDevicePK, err = r.pubkey(); err != nil {
		return nil, err
	}
	if d.OriginDeviceLocationPK, err = r.pubkey(); err != nil {
		return nil, err
	}
	if d.TargetDeviceLocationPK, err = r.pubkey(); err != nil {
		return nil, err
	}
	if d.LinkPK, err = r.pubkey(); err != nil {
		return nil, err
	}
	if d.SamplingIntervalMicroseconds, err = r.u64(); err != nil {
		return nil, err
	}
	if d.StartTimestampMicroseconds, err = r.u64(); err != nil {
		return nil, err
	}
	if d.NextSampleIndex, err = r.u32(); err != nil {
		return nil, err
	}
	if _, err = r.take(128); err != nil { // reserved
		return nil, err
	}
	if d.Samples, err = r.samples(int(d.NextSampleIndex), MaxDeviceLatencySamplesPerAccount); err != nil {
		return nil, err
	}
	return d, nil
}

// DeserializeInternetLatencySamples decodes an internet latency samples
// account.
func DeserializeInternetLatencySamples(data []byte) (*InternetLatencySamples, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("data too short: %d bytes", len(data))
	}

	r := &byteReader{data: data}
	d := &InternetLatencySamples{}

	v, err := r.u8()
	if err != nil {
		return nil, err
	}
	d.AccountType = AccountType(v)
	if d.Epoch, err = r.u64(); err != nil {
		return nil, err
	}
	if d.DataProviderName, err = r.str(); err != nil {
		return nil, fmt.Errorf("data_provider_name: %w", err)
	}
	if d.OracleAgentPK, err = r.pubkey(); err != nil {
		return nil, err
	}
	if d.OriginExchangePK, err = r.pubkey(); err != nil {
		return nil, err
	}
	if d.TargetExchangePK, err = r.pubkey(); err != nil {
		return nil, err
	}
	if d.SamplingIntervalMicroseconds, err = r.u64(); err != nil {
		return nil, err
	}
	if d.StartTimestampMicroseconds, err = r.u64(); err != nil {
		return nil, err
	}
	if d.NextSampleIndex, err = r.u32(); err != nil {
		return nil, err
	}
	if d.Samples, err = r.samples(int(d.NextSampleIndex), MaxInternetLatencySamplesPerAccount); err != nil {
		return nil, err
	}
	return d, nil
}
