package record

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"
)

func TestSeedStringIsDeterministicAndBounded(t *testing.T) {
	seeds := [][]byte{[]byte("solana_validator_debt"), {1, 2, 3, 4, 5, 6, 7, 8}}
	s1 := SeedString(seeds)
	s2 := SeedString(seeds)
	require.Equal(t, s1, s2)
	require.LessOrEqual(t, len(s1), 32)
	require.NotEmpty(t, s1)

	// Different seeds hash to different strings.
	other := SeedString([][]byte{[]byte("solana_validator_debt"), {9, 9, 9, 9, 9, 9, 9, 9}})
	require.NotEqual(t, s1, other)
}

func TestSeedOrderMatters(t *testing.T) {
	a := SeedString([][]byte{[]byte("aa"), []byte("bb")})
	b := SeedString([][]byte{[]byte("bb"), []byte("aa")})
	require.NotEqual(t, a, b)
}

func TestEpochSeeds(t *testing.T) {
	seeds := EpochSeeds([]byte("rewards"), 0x0102030405060708)
	require.Len(t, seeds, 2)
	require.Equal(t, []byte("rewards"), seeds[0])
	// Little-endian epoch bytes.
	require.Equal(t, []byte{8, 7, 6, 5, 4, 3, 2, 1}, seeds[1])

	tagged := EpochSeeds([]byte("rewards"), 1, []byte("shapley_output"))
	require.Len(t, tagged, 3)
	require.Equal(t, []byte("shapley_output"), tagged[2])
}

func TestDeriveKeyMatchesCreateWithSeed(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()
	seeds := EpochSeeds([]byte("device"), 42)

	key, err := DeriveKey(programID, authority, seeds)
	require.NoError(t, err)

	expected, err := solana.CreateWithSeed(authority, SeedString(seeds), programID)
	require.NoError(t, err)
	require.Equal(t, expected, key)
}

type stubRPC struct {
	data []byte
}

func (s *stubRPC) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error) {
	if s.data == nil {
		return &solanarpc.GetAccountInfoResult{}, nil
	}
	return &solanarpc.GetAccountInfoResult{
		Value: &solanarpc.Account{
			Data: solanarpc.DataBytesOrJSONFromBytes(s.data),
		},
	}, nil
}

func TestGetRecordDataStripsHeader(t *testing.T) {
	payload := []byte("borsh-payload")
	data := make([]byte, HeaderSize, HeaderSize+len(payload))
	data = append(data, payload...)

	c := NewClient(&stubRPC{data: data}, solana.NewWallet().PublicKey())
	got, err := c.GetRecordData(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestGetRecordDataMissing(t *testing.T) {
	c := NewClient(&stubRPC{}, solana.NewWallet().PublicKey())
	_, err := c.GetRecordData(context.Background(), solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestGetRecordDataTooShort(t *testing.T) {
	c := NewClient(&stubRPC{data: make([]byte, HeaderSize)}, solana.NewWallet().PublicKey())
	_, err := c.GetRecordData(context.Background(), solana.NewWallet().PublicKey())
	require.Error(t, err)
}

func TestBuildWriteInstructionChunkLimit(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()
	key := solana.NewWallet().PublicKey()

	_, err := BuildWriteInstruction(programID, authority, key, 0, make([]byte, MaxWriteChunk+1))
	require.Error(t, err)

	ix, err := BuildWriteInstruction(programID, authority, key, 16, []byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, programID, ix.ProgramID())
	data, err := ix.Data()
	require.NoError(t, err)
	require.Equal(t, instructionWrite, data[0])
}
