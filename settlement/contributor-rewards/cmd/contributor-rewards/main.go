package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malbeclabs/doublezero-offchain/config"
	"github.com/malbeclabs/doublezero-offchain/pkg/epoch"
	"github.com/malbeclabs/doublezero-offchain/pkg/runner"
	"github.com/malbeclabs/doublezero-offchain/sdk/record"
	"github.com/malbeclabs/doublezero-offchain/sdk/revdist"
	"github.com/malbeclabs/doublezero-offchain/sdk/serviceability"
	dztelemetry "github.com/malbeclabs/doublezero-offchain/sdk/telemetry"
	"github.com/malbeclabs/doublezero-offchain/sdk/wallet"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/fetch"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/metrics"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/rewards"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/scheduler"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/shapley"
	"github.com/malbeclabs/doublezero-offchain/settlement/contributor-rewards/internal/storage"
)

const (
	defaultInterval        = 10 * time.Minute
	defaultShapleyWorkers  = 4
	defaultMissingData     = 0.3
	defaultEdgeBandwidth   = 100.0
	defaultOperatorUptime  = 0.98
	defaultContiguityBonus = 5.0
	defaultDemandFactor    = 1.2
	defaultGraceMaxWait    = 2 * time.Hour
	defaultRPSLimit        = 20
)

var (
	env             = flag.String("env", "", "the environment to run the component in (devnet, testnet, mainnet-beta)")
	interval        = flag.Duration("interval", defaultInterval, "interval between scheduler ticks")
	verbose         = flag.Bool("verbose", false, "enable verbose logging")
	showVersion     = flag.Bool("version", false, "print the version and exit")
	metricsAddr     = flag.String("metrics-addr", ":8080", "address to listen on for prometheus metrics")
	stateFile       = flag.String("state-file", "contributor-rewards-state.json", "path of the scheduler state file")
	keypairPath     = flag.String("keypair", "", "path of the rewards accountant keypair (required unless -dry-run)")
	dryRun          = flag.Bool("dry-run", false, "simulate without writing to either ledger")
	storageBackend  = flag.String("storage-backend", "local", "snapshot storage backend (local, s3)")
	snapshotDir     = flag.String("snapshot-dir", "snapshots", "directory for local snapshots")
	snapshotBucket  = flag.String("snapshot-bucket", "", "S3 bucket for snapshots")
	snapshotPrefix  = flag.String("snapshot-prefix", "contributor-rewards", "S3 key prefix for snapshots")
	graceMaxWait    = flag.Duration("grace-max-wait", defaultGraceMaxWait, "maximum time to wait for the calculation grace period")
	rpsLimit        = flag.Int("rps-limit", defaultRPSLimit, "ledger write RPC rate limit per second")
	shapleyWorkers  = flag.Int("shapley-workers", defaultShapleyWorkers, "parallel per-city shapley computations")
	operatorUptime  = flag.Float64("operator-uptime", defaultOperatorUptime, "assumed operator uptime for the shapley kernel")
	contiguityBonus = flag.Float64("contiguity-bonus", defaultContiguityBonus, "contiguity bonus percentage for the shapley kernel")
	demandFactor    = flag.Float64("demand-multiplier", defaultDemandFactor, "demand multiplier for the shapley kernel")
	version         = "dev"
	commit          = "none"
	date            = "unknown"
)

func main() {
	_ = godotenv.Load()
	flag.Parse()

	if *showVersion {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	var log *slog.Logger
	if *verbose {
		log = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: logLevel}))
	} else {
		log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	}

	networkConfig, err := config.NetworkConfigForEnv(*env)
	if err != nil {
		log.Error("Failed to get network config", "error", err)
		flag.Usage()
		os.Exit(1)
	}

	ledgerRPC := solanarpc.New(networkConfig.LedgerPublicRPCURL)
	solanaRPC := solanarpc.New(networkConfig.SolanaRPCURL)

	serviceabilityClient := serviceability.New(ledgerRPC, networkConfig.ServiceabilityProgramID)
	telemetryClient := dztelemetry.New(ledgerRPC, networkConfig.TelemetryProgramID)
	recordClient := record.NewClient(ledgerRPC, networkConfig.RecordProgramID)
	revdistClient := revdist.NewWithLedger(solanaRPC, networkConfig.RevenueDistributionProgramID, recordClient)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := storage.New(ctx, log, storage.Config{
		Backend:         storage.Backend(*storageBackend),
		Dir:             *snapshotDir,
		Bucket:          *snapshotBucket,
		Region:          envOr("AWS_REGION", "us-east-1"),
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		KeyPrefix:       *snapshotPrefix,
	})
	if err != nil {
		log.Error("Failed to initialize snapshot storage", "error", err)
		os.Exit(1)
	}

	var writer scheduler.RewardsWriter
	if !*dryRun {
		if *keypairPath == "" {
			log.Error("Missing required flag", "flag", "keypair")
			os.Exit(1)
		}
		signer, err := solana.PrivateKeyFromSolanaKeygenFile(*keypairPath)
		if err != nil {
			log.Error("Failed to load keypair", "path", *keypairPath, "error", err)
			os.Exit(1)
		}
		ledgerWallet := wallet.New(log, ledgerRPC, signer, false)
		solanaWallet := wallet.New(log, solanaRPC, signer, false)
		recordWriter := record.NewWriter(log, ledgerRPC, ledgerWallet, networkConfig.RecordProgramID, runner.NewLimiter(*rpsLimit))
		writer = rewards.NewWriter(log, recordWriter, recordClient, revdistClient,
			networkConfig.RevenueDistributionProgramID, solanaRPC, solanaWallet, rewards.DefaultPrefixes(),
			rewards.WithGracePeriodPolling(time.Minute, *graceMaxWait))
	}

	builderCfg := shapley.BuilderConfig{
		Log:                       log,
		IsMainnet:                 networkConfig.IsMainnet(),
		MissingDataThreshold:      defaultMissingData,
		EnablePreviousEpochLookup: true,
		DefaultEdgeBandwidth:      defaultEdgeBandwidth,
	}
	calculator := scheduler.NewCalculator(log,
		shapley.NewOrchestrator(log, shapley.NewMarginalKernel(), *shapleyWorkers),
		builderCfg,
		shapley.Settings{
			OperatorUptime:   *operatorUptime,
			ContiguityBonus:  *contiguityBonus,
			DemandMultiplier: *demandFactor,
		},
	)

	fetcher := fetch.NewFetcher(log, ledgerRPC, serviceabilityClient, telemetryClient)
	finder := epoch.NewFinder(log, solanaRPC)

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	go func() {
		listener, err := net.Listen("tcp", *metricsAddr)
		if err != nil {
			log.Error("Failed to start prometheus metrics server listener", "error", err)
			return
		}
		log.Info("Prometheus metrics server listening", "address", listener.Addr().String())
		http.Handle("/metrics", promhttp.Handler())
		if err := http.Serve(listener, nil); err != nil {
			log.Error("Failed to start prometheus metrics server", "error", err)
		}
	}()

	networkPrefix := "dn"
	switch networkConfig.Moniker {
	case config.EnvMainnetBeta, config.EnvMainnet:
		networkPrefix = "mn"
	case config.EnvTestnet:
		networkPrefix = "tn"
	}

	w, err := scheduler.New(&scheduler.Config{
		Logger:        log,
		Fetcher:       fetcher,
		Calculator:    calculator,
		Writer:        writer,
		Revdist:       revdistClient,
		EpochFinder:   finder,
		Store:         store,
		StateFile:     *stateFile,
		Interval:      *interval,
		NetworkPrefix: networkPrefix,
		DryRun:        *dryRun,
	})
	if err != nil {
		log.Error("Failed to create worker", "error", err)
		os.Exit(1)
	}

	if err := w.Run(ctx); err != nil {
		log.Error("Failed to run worker", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
