package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const minioScheme = "minio://"

// MinioStore backs attachments with any S3-compatible object store.
type MinioStore struct {
	client *minio.Client
	bucket string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", path, err)
	}
	return minioScheme + s.bucket + "/" + path, nil
}

func (s *MinioStore) Get(ctx context.Context, locator string) ([]byte, error) {
	path, err := s.objectPath(locator)
	if err != nil {
		return nil, err
	}
	object, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", path, err)
	}
	defer object.Close()
	data, err := io.ReadAll(object)
	if err != nil {
		response := minio.ToErrorResponse(err)
		if response.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read object %s: %w", path, err)
	}
	return data, nil
}

func (s *MinioStore) Delete(ctx context.Context, locator string) error {
	path, err := s.objectPath(locator)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", path, err)
	}
	return nil
}

func (s *MinioStore) objectPath(locator string) (string, error) {
	trimmed := strings.TrimPrefix(locator, minioScheme)
	if trimmed == locator {
		return "", fmt.Errorf("locator %q is not a minio locator", locator)
	}
	path := strings.TrimPrefix(trimmed, s.bucket+"/")
	if path == "" || path == trimmed {
		return "", fmt.Errorf("locator %q does not reference bucket %s", locator, s.bucket)
	}
	return path, nil
}
