package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var ErrAccountNotFound = errors.New("account not found")

// RPCClient is the minimal RPC interface needed by the client.
type RPCClient interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetProgramAccounts(ctx context.Context, publicKey solana.PublicKey) (rpc.GetProgramAccountsResult, error)
}

// Client provides read-only access to telemetry program accounts.
type Client struct {
	rpc       RPCClient
	programID solana.PublicKey
}

func New(rpc RPCClient, programID solana.PublicKey) *Client {
	return &Client{rpc: rpc, programID: programID}
}

func (c *Client) ProgramID() solana.PublicKey {
	return c.programID
}

func (c *Client) GetDeviceLatencySamples(
	ctx context.Context,
	originDevicePK solana.PublicKey,
	targetDevicePK solana.PublicKey,
	linkPK solana.PublicKey,
	epoch uint64,
) (*DeviceLatencySamples, error) {
	addr, _, err := DeriveDeviceLatencySamplesPDA(c.programID, originDevicePK, targetDevicePK, linkPK, epoch)
	if err != nil {
		return nil, err
	}
	data, err := c.fetchAccountData(ctx, addr)
	if err != nil {
		return nil, err
	}
	return DeserializeDeviceLatencySamples(data)
}

func (c *Client) GetInternetLatencySamples(
	ctx context.Context,
	collectorOraclePK solana.PublicKey,
	dataProviderName string,
	originExchangePK solana.PublicKey,
	targetExchangePK solana.PublicKey,
	epoch uint64,
) (*InternetLatencySamples, error) {
	addr, _, err := DeriveInternetLatencySamplesPDA(c.programID, collectorOraclePK, dataProviderName, originExchangePK, targetExchangePK, epoch)
	if err != nil {
		return nil, err
	}
	data, err := c.fetchAccountData(ctx, addr)
	if err != nil {
		return nil, err
	}
	return DeserializeInternetLatencySamples(data)
}

// GetAllSamplesForEpoch scans the program accounts and returns every
// device and internet sample account for the given epoch.
func (c *Client) GetAllSamplesForEpoch(ctx context.Context, epoch uint64) ([]*DeviceLatencySamples, []*InternetLatencySamples, error) {
	accounts, err := c.rpc.GetProgramAccounts(ctx, c.programID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get telemetry program accounts: %w", err)
	}
	var deviceSamples []*DeviceLatencySamples
	var internetSamples []*InternetLatencySamples
	for _, account := range accounts {
		raw := account.Account.Data.GetBinary()
		if len(raw) == 0 {
			continue
		}
		switch AccountType(raw[0]) {
		case AccountTypeDeviceLatencySamples:
			sample, err := DeserializeDeviceLatencySamples(raw)
			if err != nil || sample.Epoch != epoch {
				continue
			}
			deviceSamples = append(deviceSamples, sample)
		case AccountTypeInternetLatencySamples:
			sample, err := DeserializeInternetLatencySamples(raw)
			if err != nil || sample.Epoch != epoch {
				continue
			}
			internetSamples = append(internetSamples, sample)
		}
	}
	return deviceSamples, internetSamples, nil
}

func (c *Client) fetchAccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	info, err := c.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if info == nil || info.Value == nil {
		return nil, ErrAccountNotFound
	}
	return info.Value.Data.GetBinary(), nil
}
