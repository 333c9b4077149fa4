package serviceability

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"
)

type byteWriter struct {
	data []byte
}

func (w *byteWriter) u8(v uint8)   { w.data = append(w.data, v) }
func (w *byteWriter) u16(v uint16) { w.data = binary.LittleEndian.AppendUint16(w.data, v) }
func (w *byteWriter) u32(v uint32) { w.data = binary.LittleEndian.AppendUint32(w.data, v) }
func (w *byteWriter) u64(v uint64) { w.data = binary.LittleEndian.AppendUint64(w.data, v) }
func (w *byteWriter) f64(v float64) {
	w.u64(math.Float64bits(v))
}
func (w *byteWriter) pubkey(v solana.PublicKey) { w.data = append(w.data, v.Bytes()...) }
func (w *byteWriter) str(v string) {
	w.u32(uint32(len(v)))
	w.data = append(w.data, v...)
}

func serializeDevice(d *Device) []byte {
	w := &byteWriter{}
	w.u8(uint8(d.AccountType))
	w.data = append(w.data, d.Owner[:]...)
	w.u8(d.BumpSeed)
	w.pubkey(d.LocationPubKey)
	w.pubkey(d.ExchangePubKey)
	w.data = append(w.data, d.PublicIP[:]...)
	w.u8(uint8(d.Status))
	w.str(d.Code)
	w.pubkey(d.MetricsPublisherPubKey)
	w.pubkey(d.ContributorPubKey)
	w.u16(d.MaxUsers)
	w.u16(d.UsersCount)
	return w.data
}

func serializeLink(l *Link) []byte {
	w := &byteWriter{}
	w.u8(uint8(l.AccountType))
	w.data = append(w.data, l.Owner[:]...)
	w.u8(l.BumpSeed)
	w.pubkey(l.SideAPubKey)
	w.pubkey(l.SideZPubKey)
	w.u64(l.Bandwidth)
	w.u32(l.Mtu)
	w.u64(l.DelayNs)
	w.u64(l.JitterNs)
	w.u8(uint8(l.Status))
	w.str(l.Code)
	w.pubkey(l.ContributorPubKey)
	return w.data
}

func serializeExchange(e *Exchange) []byte {
	w := &byteWriter{}
	w.u8(uint8(e.AccountType))
	w.data = append(w.data, e.Owner[:]...)
	w.u8(e.BumpSeed)
	w.f64(e.Lat)
	w.f64(e.Lng)
	w.u16(e.BgpCommunity)
	w.u8(uint8(e.Status))
	w.str(e.Code)
	w.str(e.Name)
	w.u32(e.ReferenceCount)
	return w.data
}

func serializeContributor(c *Contributor) []byte {
	w := &byteWriter{}
	w.u8(uint8(c.AccountType))
	w.data = append(w.data, c.Owner[:]...)
	w.u8(c.BumpSeed)
	w.u8(uint8(c.Status))
	w.str(c.Code)
	w.u32(c.ReferenceCount)
	return w.data
}

func TestDeserializeDeviceRoundTrip(t *testing.T) {
	want := Device{
		AccountType:       DeviceType,
		Status:            DeviceStatusActivated,
		Code:              "fra-dz001",
		ExchangePubKey:    solana.NewWallet().PublicKey(),
		ContributorPubKey: solana.NewWallet().PublicKey(),
		PublicIP:          [4]uint8{192, 0, 2, 1},
		MaxUsers:          128,
	}
	var got Device
	DeserializeDevice(NewByteReader(serializeDevice(&want)), &got)
	require.Equal(t, want, got)
}

func TestDeserializeLinkRoundTrip(t *testing.T) {
	want := Link{
		AccountType: LinkType,
		SideAPubKey: solana.NewWallet().PublicKey(),
		SideZPubKey: solana.NewWallet().PublicKey(),
		Bandwidth:   10_000_000_000,
		Status:      LinkStatusActivated,
		Code:        "fra-nyc-1",
	}
	var got Link
	DeserializeLink(NewByteReader(serializeLink(&want)), &got)
	require.Equal(t, want, got)
}

func TestDeserializeTruncatedDataYieldsZeroValues(t *testing.T) {
	raw := serializeDevice(&Device{AccountType: DeviceType, Code: "fra-dz001"})
	var got Device
	DeserializeDevice(NewByteReader(raw[:10]), &got)
	require.Equal(t, DeviceType, got.AccountType)
	require.Empty(t, got.Code)
}

type mockRPC struct {
	result rpc.GetProgramAccountsResult
}

func (m *mockRPC) GetProgramAccounts(ctx context.Context, publicKey solana.PublicKey) (rpc.GetProgramAccountsResult, error) {
	return m.result, nil
}

func keyedAccount(pubkey solana.PublicKey, data []byte) *rpc.KeyedAccount {
	return &rpc.KeyedAccount{
		Pubkey: pubkey,
		Account: &rpc.Account{
			Data: rpc.DataBytesOrJSONFromBytes(data),
		},
	}
}

func TestGetProgramDataDispatchesByAccountType(t *testing.T) {
	devicePK := solana.NewWallet().PublicKey()
	linkPK := solana.NewWallet().PublicKey()
	exchangePK := solana.NewWallet().PublicKey()
	contributorPK := solana.NewWallet().PublicKey()

	mock := &mockRPC{result: rpc.GetProgramAccountsResult{
		keyedAccount(devicePK, serializeDevice(&Device{AccountType: DeviceType, Code: "fra-dz001", Status: DeviceStatusActivated})),
		keyedAccount(linkPK, serializeLink(&Link{AccountType: LinkType, Code: "fra-nyc-1", Status: LinkStatusActivated})),
		keyedAccount(exchangePK, serializeExchange(&Exchange{AccountType: ExchangeType, Code: "xfra"})),
		keyedAccount(contributorPK, serializeContributor(&Contributor{AccountType: ContributorType, Code: "op-a"})),
		// Unknown account types are skipped.
		keyedAccount(solana.NewWallet().PublicKey(), []byte{255, 0, 0}),
	}}

	c := New(mock, solana.NewWallet().PublicKey())
	data, err := c.GetProgramData(context.Background())
	require.NoError(t, err)

	require.Len(t, data.Devices, 1)
	require.Equal(t, devicePK, data.Devices[0].PubKey)
	require.Equal(t, "fra-dz001", data.Devices[0].Code)
	require.Len(t, data.Links, 1)
	require.Equal(t, linkPK, data.Links[0].PubKey)
	require.Len(t, data.Exchanges, 1)
	require.Equal(t, "xfra", data.Exchanges[0].Code)
	require.Len(t, data.Contributors, 1)
	require.Equal(t, contributorPK, data.Contributors[0].PubKey)
	require.Empty(t, data.Locations)
}
