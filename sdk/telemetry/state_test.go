package telemetry

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"
)

func serializeDeviceSamples(d *DeviceLatencySamples) []byte {
	out := []byte{byte(d.AccountType)}
	out = binary.LittleEndian.AppendUint64(out, d.Epoch)
	out = append(out, d.OriginDeviceAgentPK[:]...)
	out = append(out, d.OriginDevicePK[:]...)
	out = append(out, d.TargetDevicePK[:]...)
	out = append(out, d.OriginDeviceLocationPK[:]...)
	out = append(out, d.TargetDeviceLocationPK[:]...)
	out = append(out, d.LinkPK[:]...)
	out = binary.LittleEndian.AppendUint64(out, d.SamplingIntervalMicroseconds)
	out = binary.LittleEndian.AppendUint64(out, d.StartTimestampMicroseconds)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(d.Samples)))
	out = append(out, make([]byte, 128)...)
	for _, s := range d.Samples {
		out = binary.LittleEndian.AppendUint32(out, s)
	}
	return out
}

func serializeInternetSamples(d *InternetLatencySamples) []byte {
	out := []byte{byte(d.AccountType)}
	out = binary.LittleEndian.AppendUint64(out, d.Epoch)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(d.DataProviderName)))
	out = append(out, d.DataProviderName...)
	out = append(out, d.OracleAgentPK[:]...)
	out = append(out, d.OriginExchangePK[:]...)
	out = append(out, d.TargetExchangePK[:]...)
	out = binary.LittleEndian.AppendUint64(out, d.SamplingIntervalMicroseconds)
	out = binary.LittleEndian.AppendUint64(out, d.StartTimestampMicroseconds)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(d.Samples)))
	for _, s := range d.Samples {
		out = binary.LittleEndian.AppendUint32(out, s)
	}
	return out
}

func TestDeserializeDeviceLatencySamplesRoundTrip(t *testing.T) {
	want := &DeviceLatencySamples{
		AccountType:                  AccountTypeDeviceLatencySamples,
		Epoch:                        42,
		OriginDevicePK:               [32]byte{1},
		TargetDevicePK:               [32]byte{2},
		LinkPK:                       [32]byte{3},
		SamplingIntervalMicroseconds: 10_000_000,
		StartTimestampMicroseconds:   1_700_000_000_000_000,
		Samples:                      []uint32{1200, 0, 1350, 1280},
	}
	want.NextSampleIndex = uint32(len(want.Samples))

	got, err := DeserializeDeviceLatencySamples(serializeDeviceSamples(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDeserializeDeviceLatencySamplesTooShort(t *testing.T) {
	_, err := DeserializeDeviceLatencySamples(make([]byte, 16))
	require.Error(t, err)
}

func TestDeserializeInternetLatencySamplesRoundTrip(t *testing.T) {
	want := &InternetLatencySamples{
		AccountType:      AccountTypeInternetLatencySamples,
		Epoch:            42,
		DataProviderName: "wheresitup",
		OriginExchangePK: [32]byte{4},
		TargetExchangePK: [32]byte{5},
		Samples:          []uint32{90_000, 91_000},
	}
	want.NextSampleIndex = uint32(len(want.Samples))

	got, err := DeserializeInternetLatencySamples(serializeInternetSamples(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

type mockRPC struct {
	accounts rpc.GetProgramAccountsResult
}

func (m *mockRPC) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	return &rpc.GetAccountInfoResult{}, nil
}

func (m *mockRPC) GetProgramAccounts(ctx context.Context, publicKey solana.PublicKey) (rpc.GetProgramAccountsResult, error) {
	return m.accounts, nil
}

func TestGetAllSamplesForEpochFiltersByEpoch(t *testing.T) {
	mk := func(epoch uint64) *rpc.KeyedAccount {
		d := &DeviceLatencySamples{AccountType: AccountTypeDeviceLatencySamples, Epoch: epoch, Samples: []uint32{1}}
		d.NextSampleIndex = 1
		return &rpc.KeyedAccount{
			Pubkey:  solana.NewWallet().PublicKey(),
			Account: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(serializeDeviceSamples(d))},
		}
	}
	inet := &InternetLatencySamples{AccountType: AccountTypeInternetLatencySamples, Epoch: 7, DataProviderName: "p", Samples: []uint32{2}}
	inet.NextSampleIndex = 1

	mock := &mockRPC{accounts: rpc.GetProgramAccountsResult{
		mk(7),
		mk(8),
		{
			Pubkey:  solana.NewWallet().PublicKey(),
			Account: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(serializeInternetSamples(inet))},
		},
	}}

	c := New(mock, solana.NewWallet().PublicKey())
	device, internet, err := c.GetAllSamplesForEpoch(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, device, 1)
	require.Equal(t, uint64(7), device[0].Epoch)
	require.Len(t, internet, 1)
	require.Equal(t, "p", internet[0].DataProviderName)

	device, internet, err = c.GetAllSamplesForEpoch(context.Background(), 9)
	require.NoError(t, err)
	require.Empty(t, device)
	require.Empty(t, internet)
}

func TestGetDeviceLatencySamplesNotFound(t *testing.T) {
	c := New(&mockRPC{}, solana.NewWallet().PublicKey())
	_, err := c.GetDeviceLatencySamples(context.Background(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), 1)
	require.ErrorIs(t, err, ErrAccountNotFound)
}
