package config

const (
	// Mainnet constants.
	MainnetLedgerPublicRPCURL          = "https://doublezero-mainnet-beta.rpcpool.com"
	MainnetSolanaRPC                   = "https://api.mainnet-beta.solana.com"
	MainnetServiceabilityProgramID     = "ser2VaTMAcYTaauMrTSfSrxBaUDq7BLNs2xfUugTAGv"
	MainnetTelemetryProgramID          = "tE1exJ5VMyoC9ByZeSmgtNzJCFF74G9JAv338sJiqkC"
	MainnetRevenueDistributionProgramID = "dzrevZC94tBLwuHw1dyynZxaXTWyp7yocsinyEVPtt4"
	MainnetRecordProgramID             = "dzrecxigtaZQ3gPmt2X5mDkYigaruFR1rHCqztFTvx7"
	MainnetInternetLatencyCollectorPK  = "8xHn4r7oQuqNZ5cLYwL5YZcDy1JjDQcpVkyoA8Dw5uXH"
	MainnetJitoTipsAPIURL              = "https://kobe.mainnet.jito.network/api/v1"

	// Testnet constants.
	TestnetLedgerPublicRPCURL          = "https://doublezerolocalnet.rpcpool.com"
	TestnetSolanaRPC                   = "https://api.testnet.solana.com"
	TestnetServiceabilityProgramID     = "DZtnuQ839pSaDMFG5q1ad2V95G82S5EC4RrB3Ndw2Heb"
	TestnetTelemetryProgramID          = "3KogTMmVxc5eUHtjZnwm136H5P8tvPwVu4ufbGPvM7p1"
	TestnetRevenueDistributionProgramID = "dzrevZC94tBLwuHw1dyynZxaXTWyp7yocsinyEVPtt4"
	TestnetRecordProgramID             = "dzrecxigtaZQ3gPmt2X5mDkYigaruFR1rHCqztFTvx7"
	TestnetInternetLatencyCollectorPK  = "HWGQSTmXWMB85NY2vFLhM1nGpXA8f4VCARRyeGNbqDF1"
	TestnetJitoTipsAPIURL              = ""

	// Devnet constants.
	DevnetLedgerPublicRPCURL          = "https://doublezerolocalnet.rpcpool.com"
	DevnetSolanaRPC                   = "https://api.devnet.solana.com"
	DevnetServiceabilityProgramID     = "GYhQDKuESrasNZGyhMJhGYFtbzNijYhcrN9poSqCQVah"
	DevnetTelemetryProgramID          = "C9xqH76NSm11pBS6maNnY163tWHT8Govww47uyEmSnoG"
	DevnetRevenueDistributionProgramID = "dzrevZC94tBLwuHw1dyynZxaXTWyp7yocsinyEVPtt4"
	DevnetRecordProgramID             = "dzrecxigtaZQ3gPmt2X5mDkYigaruFR1rHCqztFTvx7"
	DevnetInternetLatencyCollectorPK  = "3fXen9LP5JUAkaaDJtyLo1ohPiJ2LdzVqAnmhtGgAmwJ"
	DevnetJitoTipsAPIURL              = ""

	// Localnet constants.
	LocalnetLedgerPublicRPCURL = "http://localhost:8899"
	LocalnetSolanaRPC          = "http://localhost:8899"

	// GenesisDZEpochMainnetBeta is the first DZ epoch with a revenue
	// distribution on mainnet-beta. Write-off traversals never descend
	// below it.
	GenesisDZEpochMainnetBeta = 79

	// MainnetDatasetThreshold is the first instant for which mainnet
	// snapshot datasets exist in the metrics bucket.
	MainnetDatasetThreshold = "2025-09-12T21:00:00Z"
)
