// Package validators derives the set of Solana validators connected to
// the network during an epoch from the hourly parquet snapshots in the
// metrics bucket.
package validators

import (
	"fmt"
	"os"
	"strconv"
)

const (
	defaultBucket                 = "malbeclabs-data-metrics-dev"
	defaultRegion                 = "us-east-1"
	defaultMaxConsecutiveFailures = 12

	// maxConcurrentDownloads bounds the parallel hourly downloads.
	maxConcurrentDownloads = 10

	// connectionRuleHours is the strict lower bound of hourly snapshot
	// appearances a validator needs to be considered connected.
	connectionRuleHours = 12
)

// Config parameterises the S3 access and the failure tolerance.
type Config struct {
	Bucket                 string
	Region                 string
	AccessKeyID            string
	SecretAccessKey        string
	Endpoint               string
	MaxConsecutiveFailures int
}

// ConfigFromEnv loads the VALIDATOR_DEBT_* environment contract.
func ConfigFromEnv() (Config, error) {
	accessKeyID := os.Getenv("VALIDATOR_DEBT_AWS_ACCESS_KEY_ID")
	if accessKeyID == "" {
		return Config{}, fmt.Errorf("VALIDATOR_DEBT_AWS_ACCESS_KEY_ID environment variable not set")
	}
	secretAccessKey := os.Getenv("VALIDATOR_DEBT_AWS_SECRET_ACCESS_KEY")
	if secretAccessKey == "" {
		return Config{}, fmt.Errorf("VALIDATOR_DEBT_AWS_SECRET_ACCESS_KEY environment variable not set")
	}

	cfg := Config{
		Bucket:                 defaultBucket,
		Region:                 defaultRegion,
		AccessKeyID:            accessKeyID,
		SecretAccessKey:        secretAccessKey,
		Endpoint:               os.Getenv("VALIDATOR_DEBT_S3_ENDPOINT"),
		MaxConsecutiveFailures: defaultMaxConsecutiveFailures,
	}
	if bucket := os.Getenv("VALIDATOR_DEBT_S3_BUCKET"); bucket != "" {
		cfg.Bucket = bucket
	}
	if region := os.Getenv("VALIDATOR_DEBT_AWS_REGION"); region != "" {
		cfg.Region = region
	}
	if raw := os.Getenv("VALIDATOR_DEBT_S3_MAX_CONSECUTIVE_FAILURES"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid VALIDATOR_DEBT_S3_MAX_CONSECUTIVE_FAILURES: %w", err)
		}
		cfg.MaxConsecutiveFailures = parsed
	}
	return cfg, nil
}

// Network selects the dataset name prefixes.
type Network string

const (
	NetworkMainnetBeta Network = "mainnet-beta"
	NetworkTestnet     Network = "testnet"
)

// Datasets returns the four dataset prefixes joined per hour.
func (n Network) Datasets() (gossip, validators, users, devices string) {
	return fmt.Sprintf("snapshot-solana-%s-gossip", n),
		fmt.Sprintf("snapshot-solana-%s-validators", n),
		fmt.Sprintf("snapshot-doublezero-%s-device-users", n),
		fmt.Sprintf("snapshot-doublezero-%s-devices", n)
}
