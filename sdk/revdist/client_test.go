package revdist

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/near/borsh-go"
	"github.com/stretchr/testify/require"
)

type mockRPC struct {
	accounts map[solana.PublicKey][]byte
}

func (m *mockRPC) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error) {
	data, ok := m.accounts[account]
	if !ok {
		return &solanarpc.GetAccountInfoResult{}, nil
	}
	return &solanarpc.GetAccountInfoResult{
		Value: &solanarpc.Account{
			Lamports: 10_000_000,
			Data:     solanarpc.DataBytesOrJSONFromBytes(data),
		},
	}, nil
}

func (m *mockRPC) GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) (*solanarpc.GetMultipleAccountsResult, error) {
	result := &solanarpc.GetMultipleAccountsResult{}
	for _, key := range accounts {
		if data, ok := m.accounts[key]; ok {
			result.Value = append(result.Value, &solanarpc.Account{
				Data: solanarpc.DataBytesOrJSONFromBytes(data),
			})
		} else {
			result.Value = append(result.Value, nil)
		}
	}
	return result, nil
}

func (m *mockRPC) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment solanarpc.CommitmentType) (uint64, error) {
	return 1_000_000, nil
}

func encodeAccount(t *testing.T, disc [8]byte, v any, trailing []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	buf.Write(disc[:])
	require.NoError(t, binary.Write(buf, binary.LittleEndian, v))
	buf.Write(trailing)
	return buf.Bytes()
}

func TestFetchDistributionWithBitmaps(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	dist := Distribution{
		DZEpoch:                                42,
		Flags:                                  distributionFlagDebtFinalized,
		TotalSolanaValidators:                  3,
		TotalSolanaValidatorDebt:               9_000,
		ProcessedSolanaValidatorDebtStartIndex: 0,
		ProcessedSolanaValidatorDebtEndIndex:   1,
	}
	bitmap := []byte{0b0000_0101}

	addr, _, err := DeriveDistributionPDA(programID, 42)
	require.NoError(t, err)

	rpc := &mockRPC{accounts: map[solana.PublicKey][]byte{
		addr: encodeAccount(t, DiscriminatorDistribution, dist, bitmap),
	}}
	c := New(rpc, programID)

	got, remaining, err := c.FetchDistributionWithBitmaps(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, uint64(42), got.DZEpoch)
	require.True(t, got.IsDebtCalculationFinalized())
	require.Equal(t, bitmap, DebtBitmap(got, remaining))

	set, err := IsProcessedLeaf(DebtBitmap(got, remaining), 2)
	require.NoError(t, err)
	require.True(t, set)
}

func TestFetchDistributionWrongDiscriminator(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	addr, _, err := DeriveDistributionPDA(programID, 7)
	require.NoError(t, err)

	rpc := &mockRPC{accounts: map[solana.PublicKey][]byte{
		addr: encodeAccount(t, DiscriminatorJournal, Distribution{}, nil),
	}}
	c := New(rpc, programID)

	_, err = c.FetchDistribution(context.Background(), 7)
	require.ErrorIs(t, err, ErrInvalidDiscriminator)
}

func TestFetchDistributionNotFound(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	c := New(&mockRPC{}, programID)
	_, err := c.FetchDistribution(context.Background(), 7)
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestFetchConfig(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	accountant := solana.NewWallet().PublicKey()
	cfg := ProgramConfig{
		NextCompletedDZEpoch: 100,
		DebtAccountantKey:    accountant,
	}
	addr, _, err := DeriveConfigPDA(programID)
	require.NoError(t, err)

	rpc := &mockRPC{accounts: map[solana.PublicKey][]byte{
		addr: encodeAccount(t, DiscriminatorProgramConfig, cfg, nil),
	}}
	c := New(rpc, programID)

	got, err := c.FetchConfig(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(100), got.NextCompletedDZEpoch)
	require.Equal(t, accountant, got.DebtAccountantKey)
}

func TestMissingDepositAccounts(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	present := solana.NewWallet().PublicKey()
	absent := solana.NewWallet().PublicKey()

	presentKey, _, err := DeriveValidatorDepositPDA(programID, present)
	require.NoError(t, err)

	rpc := &mockRPC{accounts: map[solana.PublicKey][]byte{
		presentKey: encodeAccount(t, DiscriminatorSolanaValidatorDeposit, SolanaValidatorDeposit{NodeID: present}, nil),
	}}
	c := New(rpc, programID)

	missing, err := c.MissingDepositAccounts(context.Background(), []solana.PublicKey{present, absent})
	require.NoError(t, err)
	require.Equal(t, []solana.PublicKey{absent}, missing)
}

type stubLedger struct {
	data      map[solana.PublicKey][]byte
	programID solana.PublicKey
}

func (s *stubLedger) GetRecordData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	data, ok := s.data[account]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return data, nil
}

func (s *stubLedger) ProgramID() solana.PublicKey { return s.programID }

func TestFetchValidatorDebtsFromLedger(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	recordProgramID := solana.NewWallet().PublicKey()
	accountant := solana.NewWallet().PublicKey()

	debts := ComputedSolanaValidatorDebts{
		Blockhash:        [32]byte{7},
		FirstSolanaEpoch: 812,
		LastSolanaEpoch:  812,
		Debts: []ComputedSolanaValidatorDebt{
			{NodeID: solana.NewWallet().PublicKey(), Amount: 5},
		},
	}
	raw, err := borsh.Serialize(debts)
	require.NoError(t, err)

	key, err := DeriveDebtRecordKey(recordProgramID, accountant, 55)
	require.NoError(t, err)

	ledger := &stubLedger{
		programID: recordProgramID,
		data:      map[solana.PublicKey][]byte{key: raw},
	}
	c := NewWithLedger(&mockRPC{}, programID, ledger)

	got, err := c.FetchValidatorDebts(context.Background(), accountant, 55)
	require.NoError(t, err)
	require.Equal(t, debts, *got)
}

func TestFetchValidatorDebtsWithoutLedgerClient(t *testing.T) {
	c := New(&mockRPC{}, solana.NewWallet().PublicKey())
	_, err := c.FetchValidatorDebts(context.Background(), solana.NewWallet().PublicKey(), 1)
	require.ErrorIs(t, err, ErrLedgerClientNil)
}
