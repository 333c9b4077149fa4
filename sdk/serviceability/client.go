package serviceability

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is the minimal RPC interface needed by the client.
type RPCClient interface {
	GetProgramAccounts(ctx context.Context, publicKey solana.PublicKey) (rpc.GetProgramAccountsResult, error)
}

// ProgramData aggregates the deserialized serviceability accounts the
// settlement pipeline consumes.
type ProgramData struct {
	Locations    []Location
	Exchanges    []Exchange
	Contributors []Contributor
	Devices      []Device
	Links        []Link
}

// Client provides read-only access to serviceability program accounts.
type Client struct {
	rpc       RPCClient
	programID solana.PublicKey
}

// New creates a new serviceability client.
func New(rpc RPCClient, programID solana.PublicKey) *Client {
	return &Client{rpc: rpc, programID: programID}
}

// ProgramID returns the program ID this client is configured with.
func (c *Client) ProgramID() solana.PublicKey {
	return c.programID
}

// GetProgramData fetches all program accounts and deserializes them by
// account type. Account types the settlement pipeline does not consume
// are skipped.
func (c *Client) GetProgramData(ctx context.Context) (*ProgramData, error) {
	accounts, err := c.rpc.GetProgramAccounts(ctx, c.programID)
	if err != nil {
		return nil, fmt.Errorf("failed to get program accounts: %w", err)
	}

	data := &ProgramData{}
	for _, account := range accounts {
		raw := account.Account.Data.GetBinary()
		if len(raw) == 0 {
			continue
		}
		reader := NewByteReader(raw)
		switch AccountType(raw[0]) {
		case LocationType:
			var loc Location
			DeserializeLocation(reader, &loc)
			loc.PubKey = account.Pubkey
			data.Locations = append(data.Locations, loc)
		case ExchangeType:
			var exchange Exchange
			DeserializeExchange(reader, &exchange)
			exchange.PubKey = account.Pubkey
			data.Exchanges = append(data.Exchanges, exchange)
		case ContributorType:
			var contributor Contributor
			DeserializeContributor(reader, &contributor)
			contributor.PubKey = account.Pubkey
			data.Contributors = append(data.Contributors, contributor)
		case DeviceType:
			var device Device
			DeserializeDevice(reader, &device)
			device.PubKey = account.Pubkey
			data.Devices = append(data.Devices, device)
		case LinkType:
			var link Link
			DeserializeLink(reader, &link)
			link.PubKey = account.Pubkey
			data.Links = append(data.Links, link)
		}
	}
	return data, nil
}
