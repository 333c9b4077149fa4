package config

import (
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
)

const (
	EnvMainnetBeta = "mainnet-beta"
	EnvMainnet     = "mainnet"
	EnvTestnet     = "testnet"
	EnvDevnet      = "devnet"
	EnvLocalnet    = "localnet"
)

// NetworkConfig carries the per-environment program IDs and RPC endpoints
// used by the settlement services.
type NetworkConfig struct {
	Moniker                       string
	LedgerPublicRPCURL            string
	SolanaRPCURL                  string
	ServiceabilityProgramID       solana.PublicKey
	TelemetryProgramID            solana.PublicKey
	RevenueDistributionProgramID  solana.PublicKey
	RecordProgramID               solana.PublicKey
	InternetLatencyCollectorPK    solana.PublicKey
	JitoTipsAPIURL                string
	GenesisDZEpoch                uint64
}

func NetworkConfigForEnv(env string) (*NetworkConfig, error) {
	switch env {
	case EnvMainnetBeta, EnvMainnet:
		return buildNetworkConfig(EnvMainnetBeta,
			MainnetLedgerPublicRPCURL, MainnetSolanaRPC,
			MainnetServiceabilityProgramID, MainnetTelemetryProgramID,
			MainnetRevenueDistributionProgramID, MainnetRecordProgramID,
			MainnetInternetLatencyCollectorPK, MainnetJitoTipsAPIURL,
			GenesisDZEpochMainnetBeta)
	case EnvTestnet:
		return buildNetworkConfig(EnvTestnet,
			TestnetLedgerPublicRPCURL, TestnetSolanaRPC,
			TestnetServiceabilityProgramID, TestnetTelemetryProgramID,
			TestnetRevenueDistributionProgramID, TestnetRecordProgramID,
			TestnetInternetLatencyCollectorPK, TestnetJitoTipsAPIURL, 0)
	case EnvDevnet:
		return buildNetworkConfig(EnvDevnet,
			DevnetLedgerPublicRPCURL, DevnetSolanaRPC,
			DevnetServiceabilityProgramID, DevnetTelemetryProgramID,
			DevnetRevenueDistributionProgramID, DevnetRecordProgramID,
			DevnetInternetLatencyCollectorPK, DevnetJitoTipsAPIURL, 0)
	default:
		return nil, fmt.Errorf("unknown environment: %s", env)
	}
}

func buildNetworkConfig(moniker, ledgerRPC, solanaRPC, serviceabilityID, telemetryID, revdistID, recordID, collectorPK, jitoURL string, genesisEpoch uint64) (*NetworkConfig, error) {
	serviceabilityProgramID, err := solana.PublicKeyFromBase58(serviceabilityID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse serviceability program ID: %w", err)
	}
	telemetryProgramID, err := solana.PublicKeyFromBase58(telemetryID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse telemetry program ID: %w", err)
	}
	revenueDistributionProgramID, err := solana.PublicKeyFromBase58(revdistID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse revenue distribution program ID: %w", err)
	}
	recordProgramID, err := solana.PublicKeyFromBase58(recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse record program ID: %w", err)
	}
	internetLatencyCollectorPK, err := solana.PublicKeyFromBase58(collectorPK)
	if err != nil {
		return nil, fmt.Errorf("failed to parse internet latency collector oracle agent PK: %w", err)
	}
	return &NetworkConfig{
		Moniker:                      moniker,
		LedgerPublicRPCURL:           envOr("LEDGER_RPC", ledgerRPC),
		SolanaRPCURL:                 envOr("SOLANA_RPC", solanaRPC),
		ServiceabilityProgramID:      serviceabilityProgramID,
		TelemetryProgramID:           telemetryProgramID,
		RevenueDistributionProgramID: revenueDistributionProgramID,
		RecordProgramID:              recordProgramID,
		InternetLatencyCollectorPK:   internetLatencyCollectorPK,
		JitoTipsAPIURL:               jitoURL,
		GenesisDZEpoch:               genesisEpoch,
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// IsMainnet reports whether the config targets the mainnet-beta environment.
func (c *NetworkConfig) IsMainnet() bool {
	return c.Moniker == EnvMainnetBeta || c.Moniker == EnvMainnet
}
