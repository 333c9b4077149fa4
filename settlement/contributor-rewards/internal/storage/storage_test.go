package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestLocalStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(testLogger(), dir)
	require.NoError(t, err)

	exists, err := store.Exists(context.Background(), "mn-epoch-42-snapshot.json")
	require.NoError(t, err)
	require.False(t, exists)

	payload := []byte(`{"dz_epoch": 42}`)
	location, err := store.Save(context.Background(), "mn-epoch-42-snapshot.json", payload)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "mn-epoch-42-snapshot.json"), location)

	exists, err = store.Exists(context.Background(), "mn-epoch-42-snapshot.json")
	require.NoError(t, err)
	require.True(t, exists)

	got, err := store.Load(context.Background(), "mn-epoch-42-snapshot.json")
	require.NoError(t, err)
	require.Equal(t, payload, got)

	// No temp file is left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestLocalStoreRequiresDir(t *testing.T) {
	_, err := NewLocalStore(testLogger(), "")
	require.Error(t, err)
}

type mockS3 struct {
	objects   map[string][]byte
	putErrs   int
	headLength func(key string) *int64
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErrs > 0 {
		m.putErrs--
		return nil, errors.New("transient upload failure")
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if params.ServerSideEncryption != types.ServerSideEncryptionAes256 {
		return nil, errors.New("expected AES256 server-side encryption")
	}
	if params.ContentMD5 == nil || *params.ContentMD5 == "" {
		return nil, errors.New("expected content MD5")
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[*params.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.headLength != nil {
		if l := m.headLength(*params.Key); l != nil {
			return &s3.HeadObjectOutput{ContentLength: l}, nil
		}
	}
	data, ok := m.objects[*params.Key]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (m *mockS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[*params.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3StoreRoundTripWithRetries(t *testing.T) {
	mock := &mockS3{putErrs: 2}
	store := NewS3StoreWithClient(testLogger(), mock, "bucket", "snapshots")

	payload := []byte(`{"dz_epoch": 7}`)
	location, err := store.Save(context.Background(), "tn-epoch-7-snapshot.json", payload)
	require.NoError(t, err)
	require.Equal(t, "s3://bucket/snapshots/tn-epoch-7-snapshot.json", location)

	exists, err := store.Exists(context.Background(), "tn-epoch-7-snapshot.json")
	require.NoError(t, err)
	require.True(t, exists)

	got, err := store.Load(context.Background(), "tn-epoch-7-snapshot.json")
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestS3StoreVerificationFailure(t *testing.T) {
	wrong := int64(3)
	mock := &mockS3{headLength: func(key string) *int64 { return &wrong }}
	store := NewS3StoreWithClient(testLogger(), mock, "bucket", "")

	_, err := store.Save(context.Background(), "x.json", []byte("0123456789"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "verification failed")
}

func TestS3StoreExistsNotFound(t *testing.T) {
	store := NewS3StoreWithClient(testLogger(), &mockS3{}, "bucket", "")
	exists, err := store.Exists(context.Background(), "missing.json")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), testLogger(), Config{Backend: "tape"})
	require.Error(t, err)
}
