// Package serviceability reads the serviceability program's device,
// link, exchange, and contributor accounts, which describe the network
// graph the settlement pipeline settles over.
package serviceability

import "github.com/gagliardetto/solana-go"

type AccountType uint8

const (
	GlobalStateType AccountType = iota + 1
	ConfigType
	LocationType
	ExchangeType
	DeviceType
	LinkType
	UserType
	MulticastGroupType
	ProgramConfigType
	ContributorType
	AccessPassType
	ResourceExtensionType
	TenantType
)

type LocationStatus uint8

const (
	LocationStatusPending LocationStatus = iota
	LocationStatusActivated
	LocationStatusSuspended
	LocationStatusDeleted
)

// Location is a physical site with coordinates and a city code.
type Location struct {
	AccountType    AccountType
	Owner          [32]uint8
	BumpSeed       uint8
	Lat            float64
	Lng            float64
	LocID          uint32
	Status         LocationStatus
	Code           string
	Name           string
	Country        string
	ReferenceCount uint32
	PubKey         solana.PublicKey
}

type ExchangeStatus uint8

const (
	ExchangeStatusPending ExchangeStatus = iota
	ExchangeStatusActivated
	ExchangeStatusSuspended
	ExchangeStatusDeleted
)

func (e ExchangeStatus) String() string {
	switch e {
	case ExchangeStatusPending:
		return "pending"
	case ExchangeStatusActivated:
		return "activated"
	case ExchangeStatusSuspended:
		return "suspended"
	case ExchangeStatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Exchange is an internet exchange point; its code maps to a city.
type Exchange struct {
	AccountType    AccountType
	Owner          [32]uint8
	BumpSeed       uint8
	Lat            float64
	Lng            float64
	BgpCommunity   uint16
	Status         ExchangeStatus
	Code           string
	Name           string
	ReferenceCount uint32
	PubKey         solana.PublicKey
}

type DeviceStatus uint8

const (
	DeviceStatusPending DeviceStatus = iota
	DeviceStatusActivated
	DeviceStatusSuspended
	DeviceStatusDeleted
	DeviceStatusRejected
	DeviceStatusDrained
)

func (d DeviceStatus) String() string {
	switch d {
	case DeviceStatusPending:
		return "pending"
	case DeviceStatusActivated:
		return "activated"
	case DeviceStatusSuspended:
		return "suspended"
	case DeviceStatusDeleted:
		return "deleted"
	case DeviceStatusRejected:
		return "rejected"
	case DeviceStatusDrained:
		return "drained"
	default:
		return "unknown"
	}
}

// Device is a network switch contributed to the network.
type Device struct {
	AccountType       AccountType
	Owner             [32]uint8
	BumpSeed          uint8
	LocationPubKey    solana.PublicKey
	ExchangePubKey    solana.PublicKey
	PublicIP          [4]uint8
	Status            DeviceStatus
	Code              string
	MetricsPublisherPubKey solana.PublicKey
	ContributorPubKey solana.PublicKey
	MaxUsers          uint16
	UsersCount        uint16
	PubKey            solana.PublicKey
}

type LinkStatus uint8

const (
	LinkStatusPending LinkStatus = iota
	LinkStatusActivated
	LinkStatusSuspended
	LinkStatusDeleted
	LinkStatusRejected
	LinkStatusRequested
	LinkStatusHardDrained
	LinkStatusSoftDrained
	LinkStatusProvisioning
)

func (l LinkStatus) String() string {
	switch l {
	case LinkStatusPending:
		return "pending"
	case LinkStatusActivated:
		return "activated"
	case LinkStatusSuspended:
		return "suspended"
	case LinkStatusDeleted:
		return "deleted"
	case LinkStatusRejected:
		return "rejected"
	case LinkStatusRequested:
		return "requested"
	case LinkStatusHardDrained:
		return "hard-drained"
	case LinkStatusSoftDrained:
		return "soft-drained"
	case LinkStatusProvisioning:
		return "provisioning"
	default:
		return "unknown"
	}
}

// Link is a private circuit between two devices, with bandwidth in
// bits per second.
type Link struct {
	AccountType       AccountType
	Owner             [32]uint8
	BumpSeed          uint8
	SideAPubKey       solana.PublicKey
	SideZPubKey       solana.PublicKey
	Bandwidth         uint64
	Mtu               uint32
	DelayNs           uint64
	JitterNs          uint64
	Status            LinkStatus
	Code              string
	ContributorPubKey solana.PublicKey
	PubKey            solana.PublicKey
}

type ContributorStatus uint8

const (
	ContributorStatusPending ContributorStatus = iota
	ContributorStatusActivated
	ContributorStatusSuspended
	ContributorStatusDeleted
)

// Contributor is a network operator; its owner key is the Shapley
// operator identity and the reward service key.
type Contributor struct {
	AccountType    AccountType
	Owner          [32]uint8
	BumpSeed       uint8
	Status         ContributorStatus
	Code           string
	ReferenceCount uint32
	PubKey         solana.PublicKey
}

// OwnerKey returns the contributor's owner as a typed public key.
func (c *Contributor) OwnerKey() solana.PublicKey {
	return solana.PublicKeyFromBytes(c.Owner[:])
}
