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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
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
	"github.com/malbeclabs/doublezero-offchain/sdk/wallet"
	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/export"
	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/metrics"
	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/notify"
	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/rewardsfetch"
	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/validators"
	"github.com/malbeclabs/doublezero-offchain/settlement/validator-debt/internal/worker"
)

const (
	defaultInterval     = 10 * time.Minute
	defaultGraceMaxWait = 2 * time.Hour
	defaultRPSLimit     = 10
)

var (
	env           = flag.String("env", "", "the environment to run the component in (devnet, testnet, mainnet-beta)")
	interval      = flag.Duration("interval", defaultInterval, "interval between worker ticks")
	verbose       = flag.Bool("verbose", false, "enable verbose logging")
	showVersion   = flag.Bool("version", false, "print the version and exit")
	metricsAddr   = flag.String("metrics-addr", "", "address to listen on for prometheus metrics (VALIDATOR_DEBT_METRICS_ADDR)")
	keypairPath   = flag.String("keypair", "", "path of the debt accountant keypair")
	dryRun        = flag.Bool("dry-run", false, "simulate without sending transactions")
	force         = flag.Bool("force", false, "overwrite mismatched records and finalize empty epochs")
	graceMaxWait  = flag.Duration("grace-max-wait", defaultGraceMaxWait, "maximum time to wait for the calculation grace period")
	overridesCSV  = flag.String("overrides-csv", worker.DefaultOverridesPath, "path of the (node_id, dz_epoch) debt collection exclusion CSV")
	mint2Z        = flag.String("mint-2z", "", "the 2Z token mint address")
	fillsRegistry = flag.String("fills-registry", "", "the SOL conversion fills registry address")
	exportDir     = flag.String("export-dir", "", "directory to export per-epoch debt collection CSVs to")
	rpsLimit      = flag.Int("rps-limit", defaultRPSLimit, "RPC rate limit per second for heavy loops")
	version       = "dev"
	commit        = "none"
	date          = "unknown"
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
	if *keypairPath == "" {
		log.Error("Missing required flag", "flag", "keypair")
		os.Exit(1)
	}
	signer, err := solana.PrivateKeyFromSolanaKeygenFile(*keypairPath)
	if err != nil {
		log.Error("Failed to load keypair", "path", *keypairPath, "error", err)
		os.Exit(1)
	}

	var mint solana.PublicKey
	if *mint2Z != "" {
		mint, err = solana.PublicKeyFromBase58(*mint2Z)
		if err != nil {
			log.Error("Failed to parse 2Z mint", "error", err)
			os.Exit(1)
		}
	}
	var fillsRegistryKey solana.PublicKey
	if *fillsRegistry != "" {
		fillsRegistryKey, err = solana.PublicKeyFromBase58(*fillsRegistry)
		if err != nil {
			log.Error("Failed to parse fills registry", "error", err)
			os.Exit(1)
		}
	}

	ledgerRPC := solanarpc.New(networkConfig.LedgerPublicRPCURL)
	solanaRPC := solanarpc.New(networkConfig.SolanaRPCURL)

	recordClient := record.NewClient(ledgerRPC, networkConfig.RecordProgramID)
	revdistClient := revdist.NewWithLedger(solanaRPC, networkConfig.RevenueDistributionProgramID, recordClient)

	solanaWallet := wallet.New(log, solanaRPC, signer, *dryRun)
	ledgerWallet := wallet.New(log, ledgerRPC, signer, *dryRun)
	limiter := runner.NewLimiter(*rpsLimit)
	recordWriter := record.NewWriter(log, ledgerRPC, ledgerWallet, networkConfig.RecordProgramID, limiter)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s3Cfg, err := validators.ConfigFromEnv()
	if err != nil {
		log.Error("Failed to load S3 configuration", "error", err)
		os.Exit(1)
	}
	s3Client, err := newS3Client(ctx, s3Cfg)
	if err != nil {
		log.Error("Failed to initialize S3 client", "error", err)
		os.Exit(1)
	}
	network := validators.NetworkTestnet
	if networkConfig.IsMainnet() {
		network = validators.NetworkMainnetBeta
	}
	deriver := validators.NewDeriver(log, s3Client, s3Cfg, network)

	dzFinder := epoch.NewFinder(log, ledgerRPC)
	solanaFinder := epoch.NewFinder(log, solanaRPC)
	rewardsFetcher := rewardsfetch.New(log, solanaRPC, solanaFinder, limiter, networkConfig.JitoTipsAPIURL)

	if addr := envOr("VALIDATOR_DEBT_METRICS_ADDR", *metricsAddr); addr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", addr)
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
	}

	notifier := notify.New(log, os.Getenv("SLACK_WEBHOOK_URL"))
	collectionSink := func(results *worker.CollectionResults) {
		if *exportDir == "" {
			return
		}
		path := fmt.Sprintf("%s/debt-collection-epoch-%d.csv", *exportDir, results.DZEpoch)
		if err := export.WriteCSVFile(path, results); err != nil {
			log.Error("Failed to export collection results", "path", path, "error", err)
			return
		}
		export.RenderTable(os.Stdout, results)
	}

	w, err := worker.New(&worker.Config{
		Logger:           log,
		SolanaWallet:     solanaWallet,
		LedgerWallet:     ledgerWallet,
		Revdist:          revdistClient,
		Ledger:           ledgerRPC,
		Solana:           solanaRPC,
		RecordWriter:     recordWriter,
		Validators:       deriver,
		Rewards:          rewardsFetcher,
		DZEpochs:         dzFinder,
		SolanaEpochs:     solanaFinder,
		Interval:         *interval,
		GraceMaxWait:     *graceMaxWait,
		OverridesPath:    *overridesCSV,
		GenesisDZEpoch:   networkConfig.GenesisDZEpoch,
		Mint2Z:           mint,
		FillsRegistryKey: fillsRegistryKey,
		Notifier:         notifier,
		CollectionSink:   collectionSink,
		Force:            *force,
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

func newS3Client(ctx context.Context, cfg validators.Config) (*s3.Client, error) {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Endpoint != "" {
		return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}), nil
	}
	return s3.NewFromConfig(awsCfg), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
