// Package minio stores cold payloads in an S3 compatible bucket.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/papercomputeco/memlayer/pkg/blob"
	"github.com/papercomputeco/memlayer/pkg/logger"
)

const scheme = "s3://"

// Config configures a Store.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Logger    *slog.Logger
}

// Store implements blob.Store on minio-go.
type Store struct {
	client *miniogo.Client
	bucket string
	logger *slog.Logger
}

// New connects to the endpoint and creates the bucket if it is missing.
func New(ctx context.Context, c Config) (*Store, error) {
	if c.Endpoint == "" || c.Bucket == "" {
		return nil, fmt.Errorf("minio blob store requires an endpoint and a bucket")
	}

	client, err := miniogo.New(c.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: c.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, c.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", c.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, c.Bucket, miniogo.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", c.Bucket, err)
		}
	}

	return &Store{client: client, bucket: c.Bucket, logger: logger.OrNop(c.Logger)}, nil
}

// Ref returns the reference for an object key in bucket.
func Ref(bucket, key string) string {
	return scheme + bucket + "/" + key
}

func (s *Store) objectName(ref string) (string, error) {
	prefix := scheme + s.bucket + "/"
	if !strings.HasPrefix(ref, prefix) {
		return "", fmt.Errorf("reference %q does not belong to bucket %s", ref, s.bucket)
	}
	return strings.TrimPrefix(ref, prefix), nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), miniogo.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	s.logger.Debug("blob stored", "bucket", s.bucket, "key", key, "size", len(data))
	return Ref(s.bucket, key), nil
}

func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	name, err := s.objectName(ref)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, name, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, s.translate(name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.translate(name, err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, ref string) error {
	name, err := s.objectName(ref)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, name, miniogo.RemoveObjectOptions{}); err != nil {
		if miniogo.ToErrorResponse(err).Code == miniogo.NoSuchKey {
			return nil
		}
		return fmt.Errorf("removing %s: %w", name, err)
	}
	return nil
}

func (s *Store) translate(name string, err error) error {
	if miniogo.ToErrorResponse(err).Code == miniogo.NoSuchKey {
		return fmt.Errorf("%w: %s", blob.ErrNotFound, name)
	}
	return fmt.Errorf("downloading %s: %w", name, err)
}

var _ blob.Store = (*Store)(nil)
