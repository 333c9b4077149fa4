package validators

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/malbeclabs/doublezero-offchain/pkg/runner"
)

// S3API is the object-download surface the deriver needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Deriver joins the hourly gossip, validators, device-users, and devices
// snapshots and applies the connection rule.
type Deriver struct {
	log     *slog.Logger
	client  S3API
	cfg     Config
	network Network
}

func NewDeriver(log *slog.Logger, client S3API, cfg Config, network Network) *Deriver {
	return &Deriver{log: log, client: client, cfg: cfg, network: network}
}

// Derive returns the identity pubkeys of validators that appear in
// strictly more than connectionRuleHours hourly snapshots between start
// and end. Missing or malformed hours are logged and skipped; the
// derivation fails only when the failure count reaches the configured
// threshold.
func (d *Deriver) Derive(ctx context.Context, start, end time.Time) ([]string, error) {
	hours := HourlyTimestamps(start, end)
	if len(hours) == 0 {
		return nil, fmt.Errorf("no snapshot hours between %s and %s", start, end)
	}
	d.log.Info("Deriving validator set", "hours", len(hours), "start", start, "end", end)

	type hourResult struct {
		hour       time.Time
		identities []string
		err        error
	}
	results, err := runner.Map(ctx, maxConcurrentDownloads, hours, func(ctx context.Context, hour time.Time) (hourResult, error) {
		identities, err := d.processHour(ctx, d.network, hour)
		// Per-hour failures are tolerated; they surface in the result.
		return hourResult{hour: hour, identities: identities, err: err}, nil
	})
	if err != nil {
		return nil, err
	}

	appearances := make(map[string]int)
	failed := 0
	for _, result := range results {
		if result.err != nil {
			failed++
			d.log.Warn("Failed to process snapshot hour", "hour", result.hour.Format("2006-01-02 15:00"), "error", result.err)
			continue
		}
		for _, identity := range result.identities {
			appearances[identity]++
		}
	}
	if failed >= d.cfg.MaxConsecutiveFailures {
		return nil, fmt.Errorf("%d of %d snapshot hours failed (threshold %d)", failed, len(hours), d.cfg.MaxConsecutiveFailures)
	}

	qualified := ApplyConnectionRule(appearances)
	d.log.Info("Validator set derived",
		"unique", len(appearances), "qualified", len(qualified), "failedHours", failed)
	return qualified, nil
}

// ApplyConnectionRule keeps identities appearing in strictly more than
// connectionRuleHours hours, sorted for a deterministic output.
func ApplyConnectionRule(appearances map[string]int) []string {
	var qualified []string
	for identity, count := range appearances {
		if count > connectionRuleHours {
			qualified = append(qualified, identity)
		}
	}
	sort.Strings(qualified)
	return qualified
}

// processHour downloads the hour's four parquet files and joins them.
func (d *Deriver) processHour(ctx context.Context, network Network, hour time.Time) ([]string, error) {
	gossipDS, validatorsDS, usersDS, devicesDS := network.Datasets()

	dir, err := os.MkdirTemp("", "validator-debt-hour-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	paths := make(map[string]string, 4)
	for name, dataset := range map[string]string{
		"gossip":     gossipDS,
		"validators": validatorsDS,
		"users":      usersDS,
		"devices":    devicesDS,
	} {
		path := filepath.Join(dir, name+".parquet")
		if err := d.download(ctx, S3Key(dataset, hour), path); err != nil {
			return nil, fmt.Errorf("downloading %s: %w", dataset, err)
		}
		paths[name] = path
	}

	return joinHour(ctx, paths["gossip"], paths["validators"], paths["users"], paths["devices"])
}

func (d *Deriver) download(ctx context.Context, key, path string) error {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("fetching s3://%s/%s: %w", d.cfg.Bucket, key, err)
	}
	defer out.Body.Close()

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer file.Close()
	if _, err := io.Copy(file, out.Body); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// joinHour runs the four-way join in an in-memory duckdb: gossip joined
// to validators on identity, to users on client ip, to devices on the
// user's device key, dropping delinquent validators.
func joinHour(ctx context.Context, gossipPath, validatorsPath, usersPath, devicesPath string) ([]string, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	defer db.Close()

	query := fmt.Sprintf(`
		SELECT DISTINCT g.identity_pubkey
		FROM read_parquet('%s') AS g
		JOIN read_parquet('%s') AS v ON v.identity_pubkey = g.identity_pubkey
		JOIN read_parquet('%s') AS u ON u.client_ip = g.ip_address
		JOIN read_parquet('%s') AS d ON d.pubkey = u.device_pubkey
		WHERE lower(coalesce(CAST(v.delinquent AS VARCHAR), 'false')) NOT IN ('true', '1')
	`, sqlPath(gossipPath), sqlPath(validatorsPath), sqlPath(usersPath), sqlPath(devicesPath))

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("joining hourly datasets: %w", err)
	}
	defer rows.Close()

	var identities []string
	for rows.Next() {
		var identity sql.NullString
		if err := rows.Scan(&identity); err != nil {
			return nil, fmt.Errorf("scanning identity: %w", err)
		}
		if identity.Valid && identity.String != "" {
			identities = append(identities, identity.String)
		}
	}
	return identities, rows.Err()
}

func sqlPath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
