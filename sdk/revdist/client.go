package revdist

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	ag_binary "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrLedgerClientNil = errors.New("ledger record client not configured")
)

// deserializeAccount validates the discriminator and deserializes the
// account data into the given struct. It requires at least discriminator +
// sizeof(T) bytes but tolerates extra trailing bytes for forward
// compatibility.
func deserializeAccount[T any](data []byte, disc [8]byte) (*T, error) {
	if err := validateDiscriminator(data, disc); err != nil {
		return nil, err
	}
	body := data[discriminatorSize:]
	var zero T
	need := int(unsafe.Sizeof(zero))
	if len(body) < need {
		return nil, fmt.Errorf("account data too short: have %d bytes, need at least %d", len(body), need)
	}
	var item T
	if err := binary.Read(bytes.NewReader(body[:need]), binary.LittleEndian, &item); err != nil {
		return nil, fmt.Errorf("deserializing account: %w", err)
	}
	return &item, nil
}

// RPCClient is the minimal RPC interface needed by the client.
type RPCClient interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error)
	GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) (*solanarpc.GetMultipleAccountsResult, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment solanarpc.CommitmentType) (uint64, error)
}

// LedgerRecordClient fetches off-chain record data from the DZ Ledger.
type LedgerRecordClient interface {
	GetRecordData(ctx context.Context, account solana.PublicKey) ([]byte, error)
	ProgramID() solana.PublicKey
}

// Client provides read access to revenue distribution program accounts
// and the off-chain records they anchor.
type Client struct {
	rpc          RPCClient
	programID    solana.PublicKey
	ledgerClient LedgerRecordClient
}

// New creates a new revenue distribution client.
func New(rpc RPCClient, programID solana.PublicKey) *Client {
	return &Client{rpc: rpc, programID: programID}
}

// NewWithLedger creates a new client with ledger record support.
func NewWithLedger(rpc RPCClient, programID solana.PublicKey, ledgerClient LedgerRecordClient) *Client {
	return &Client{rpc: rpc, programID: programID, ledgerClient: ledgerClient}
}

func (c *Client) ProgramID() solana.PublicKey {
	return c.programID
}

func (c *Client) FetchConfig(ctx context.Context) (*ProgramConfig, error) {
	addr, _, err := DeriveConfigPDA(c.programID)
	if err != nil {
		return nil, fmt.Errorf("deriving config PDA: %w", err)
	}
	data, err := c.fetchAccountData(ctx, addr)
	if err != nil {
		return nil, err
	}
	return deserializeAccount[ProgramConfig](data, DiscriminatorProgramConfig)
}

func (c *Client) FetchDistribution(ctx context.Context, epoch uint64) (*Distribution, error) {
	dist, _, err := c.FetchDistributionWithBitmaps(ctx, epoch)
	return dist, err
}

// FetchDistributionWithBitmaps returns the distribution's fixed fields
// together with the trailing byte area holding the processed-leaf
// bitmaps. The bitmap windows inside it are addressed by the start/end
// indexes on the Distribution.
func (c *Client) FetchDistributionWithBitmaps(ctx context.Context, epoch uint64) (*Distribution, []byte, error) {
	addr, _, err := DeriveDistributionPDA(c.programID, epoch)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving distribution PDA: %w", err)
	}
	data, err := c.fetchAccountData(ctx, addr)
	if err != nil {
		return nil, nil, err
	}
	dist, err := deserializeAccount[Distribution](data, DiscriminatorDistribution)
	if err != nil {
		return nil, nil, err
	}
	fixed := discriminatorSize + int(unsafe.Sizeof(Distribution{}))
	var remaining []byte
	if len(data) > fixed {
		remaining = data[fixed:]
	}
	return dist, remaining, nil
}

// DebtBitmap returns the paid-leaf bitmap slice out of the trailing data.
func DebtBitmap(dist *Distribution, remaining []byte) []byte {
	start, end := dist.DebtBitmapRange()
	if start < 0 || end > len(remaining) || start > end {
		return nil
	}
	return remaining[start:end]
}

// WriteOffBitmap returns the written-off-leaf bitmap slice.
func WriteOffBitmap(dist *Distribution, remaining []byte) []byte {
	start, end := dist.WriteOffBitmapRange()
	if start < 0 || end > len(remaining) || start > end {
		return nil
	}
	return remaining[start:end]
}

// RewardsBitmap returns the distributed-rewards bitmap slice.
func RewardsBitmap(dist *Distribution, remaining []byte) []byte {
	start, end := dist.RewardsBitmapRange()
	if start < 0 || end > len(remaining) || start > end {
		return nil
	}
	return remaining[start:end]
}

func (c *Client) FetchJournal(ctx context.Context) (*Journal, error) {
	addr, _, err := DeriveJournalPDA(c.programID)
	if err != nil {
		return nil, fmt.Errorf("deriving journal PDA: %w", err)
	}
	data, err := c.fetchAccountData(ctx, addr)
	if err != nil {
		return nil, err
	}
	return deserializeAccount[Journal](data, DiscriminatorJournal)
}

func (c *Client) FetchValidatorDeposit(ctx context.Context, nodeID solana.PublicKey) (*SolanaValidatorDeposit, error) {
	addr, _, err := DeriveValidatorDepositPDA(c.programID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("deriving validator deposit PDA: %w", err)
	}
	data, err := c.fetchAccountData(ctx, addr)
	if err != nil {
		return nil, err
	}
	return deserializeAccount[SolanaValidatorDeposit](data, DiscriminatorSolanaValidatorDeposit)
}

func (c *Client) FetchContributorRewards(ctx context.Context, serviceKey solana.PublicKey) (*ContributorRewards, error) {
	addr, _, err := DeriveContributorRewardsPDA(c.programID, serviceKey)
	if err != nil {
		return nil, fmt.Errorf("deriving contributor rewards PDA: %w", err)
	}
	data, err := c.fetchAccountData(ctx, addr)
	if err != nil {
		return nil, err
	}
	return deserializeAccount[ContributorRewards](data, DiscriminatorContributorRewards)
}

// ValidatorDepositBalance returns the effective deposit balance for a
// validator, computed as account_lamports - rent_exempt_minimum. A
// missing account has a zero balance.
func (c *Client) ValidatorDepositBalance(ctx context.Context, nodeID solana.PublicKey) (uint64, error) {
	addr, _, err := DeriveValidatorDepositPDA(c.programID, nodeID)
	if err != nil {
		return 0, fmt.Errorf("deriving validator deposit PDA: %w", err)
	}
	result, err := c.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		if errors.Is(err, solanarpc.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("fetching account: %w", err)
	}
	if result == nil || result.Value == nil {
		return 0, nil
	}
	lamports := result.Value.Lamports
	rentExempt, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, uint64(len(result.Value.Data.GetBinary())), solanarpc.CommitmentFinalized)
	if err != nil {
		return 0, fmt.Errorf("fetching rent exemption: %w", err)
	}
	if lamports <= rentExempt {
		return 0, nil
	}
	return lamports - rentExempt, nil
}

// MissingDepositAccounts returns the node ids among the given set whose
// deposit accounts do not exist yet, batched through GetMultipleAccounts.
func (c *Client) MissingDepositAccounts(ctx context.Context, nodeIDs []solana.PublicKey) ([]solana.PublicKey, error) {
	const chunkSize = 100
	var missing []solana.PublicKey
	for start := 0; start < len(nodeIDs); start += chunkSize {
		end := min(start+chunkSize, len(nodeIDs))
		chunk := nodeIDs[start:end]
		keys := make([]solana.PublicKey, len(chunk))
		for i, nodeID := range chunk {
			addr, _, err := DeriveValidatorDepositPDA(c.programID, nodeID)
			if err != nil {
				return nil, fmt.Errorf("deriving validator deposit PDA: %w", err)
			}
			keys[i] = addr
		}
		result, err := c.rpc.GetMultipleAccounts(ctx, keys...)
		if err != nil {
			return nil, fmt.Errorf("fetching deposit accounts: %w", err)
		}
		for i, account := range result.Value {
			if account == nil {
				missing = append(missing, chunk[i])
			}
		}
	}
	return missing, nil
}

// FetchValidatorDebts fetches and deserializes the off-chain validator
// debt record for the given DZ epoch from the DZ Ledger.
func (c *Client) FetchValidatorDebts(ctx context.Context, accountant solana.PublicKey, epoch uint64) (*ComputedSolanaValidatorDebts, error) {
	if c.ledgerClient == nil {
		return nil, ErrLedgerClientNil
	}
	addr, err := DeriveDebtRecordKey(c.ledgerClient.ProgramID(), accountant, epoch)
	if err != nil {
		return nil, fmt.Errorf("deriving validator debt record key: %w", err)
	}
	data, err := c.ledgerClient.GetRecordData(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fetching validator debt record: %w", err)
	}
	var debts ComputedSolanaValidatorDebts
	decoder := ag_binary.NewBorshDecoder(data)
	if err := decoder.Decode(&debts); err != nil {
		return nil, fmt.Errorf("deserializing validator debts: %w", err)
	}
	return &debts, nil
}

// FetchRewardShares fetches and deserializes the off-chain Shapley output
// record for the given DZ epoch from the DZ Ledger.
func (c *Client) FetchRewardShares(ctx context.Context, accountant solana.PublicKey, epoch uint64) (*ShapleyOutputStorage, error) {
	if c.ledgerClient == nil {
		return nil, ErrLedgerClientNil
	}
	addr, err := DeriveRewardsRecordKey(c.ledgerClient.ProgramID(), accountant, epoch)
	if err != nil {
		return nil, fmt.Errorf("deriving reward shares record key: %w", err)
	}
	data, err := c.ledgerClient.GetRecordData(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fetching reward shares record: %w", err)
	}
	var output ShapleyOutputStorage
	decoder := ag_binary.NewBorshDecoder(data)
	if err := decoder.Decode(&output); err != nil {
		return nil, fmt.Errorf("deserializing reward shares: %w", err)
	}
	return &output, nil
}

func (c *Client) fetchAccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	result, err := c.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		if errors.Is(err, solanarpc.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("fetching account %s: %w", addr, err)
	}
	if result == nil || result.Value == nil {
		return nil, ErrAccountNotFound
	}
	return result.Value.Data.GetBinary(), nil
}
