package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/malbeclabs/doublezero-offchain/pkg/retry"
)

// S3API is the S3 client surface the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store uploads snapshots with content-MD5 integrity, server-side
// encryption, retries, and a HEAD length verification.
type S3Store struct {
	log       *slog.Logger
	client    S3API
	bucket    string
	keyPrefix string
}

func NewS3Store(ctx context.Context, log *slog.Logger, cfg Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
		log.Info("Using custom S3 endpoint", "endpoint", cfg.Endpoint)
	} else {
		client = s3.NewFromConfig(awsCfg)
	}
	return NewS3StoreWithClient(log, client, cfg.Bucket, cfg.KeyPrefix), nil
}

// NewS3StoreWithClient wires an existing client; used by tests.
func NewS3StoreWithClient(log *slog.Logger, client S3API, bucket, keyPrefix string) *S3Store {
	return &S3Store{log: log, client: client, bucket: bucket, keyPrefix: keyPrefix}
}

func (s *S3Store) key(name string) string {
	if s.keyPrefix == "" {
		return name
	}
	return path.Join(s.keyPrefix, name)
}

func computeMD5(data []byte) string {
	digest := md5.Sum(data)
	return base64.StdEncoding.EncodeToString(digest[:])
}

func (s *S3Store) Save(ctx context.Context, name string, data []byte) (string, error) {
	key := s.key(name)
	contentMD5 := computeMD5(data)
	s.log.Info("Uploading snapshot to S3", "bucket", s.bucket, "key", key, "bytes", len(data), "md5", contentMD5)

	_, err := retry.Do(ctx, func() (struct{}, error) {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:               aws.String(s.bucket),
			Key:                  aws.String(key),
			Body:                 bytes.NewReader(data),
			ContentType:          aws.String("application/json"),
			ContentMD5:           aws.String(contentMD5),
			ServerSideEncryption: types.ServerSideEncryptionAes256,
		})
		if err != nil {
			s.log.Error("S3 upload failed", "key", key, "error", err)
		}
		return struct{}{}, err
	})
	if err != nil {
		return "", fmt.Errorf("S3 upload failed after retries: %w", err)
	}

	// Verify the upload landed with the expected size.
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to verify uploaded snapshot: %w", err)
	}
	if head.ContentLength == nil || *head.ContentLength != int64(len(data)) {
		var got int64
		if head.ContentLength != nil {
			got = *head.ContentLength
		}
		return "", fmt.Errorf("upload verification failed: expected %d bytes, got %d", len(data), got)
	}

	location := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	s.log.Info("Snapshot uploaded", "location", location)
	return location, nil
}

func (s *S3Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) || strings.Contains(err.Error(), "NotFound") {
			return false, nil
		}
		return false, fmt.Errorf("failed to check snapshot existence: %w", err)
	}
	return true, nil
}

func (s *S3Store) Load(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download snapshot: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot body: %w", err)
	}
	return data, nil
}

func (s *S3Store) StorageType() string {
	return "s3"
}
