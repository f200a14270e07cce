package objects

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperjump/temuan/internal/config"
	"github.com/hyperjump/temuan/internal/matcherr"
)

// MinioStore keeps objects in one S3-compatible bucket.
type MinioStore struct {
	mc     *minio.Client
	bucket string
}

// NewMinioStore creates a client for cfg.Endpoint. It does not contact the server.
func NewMinioStore(cfg config.ObjectsConfig) (*MinioStore, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioStore{mc: mc, bucket: cfg.Bucket}, nil
}

// Init creates the bucket if it does not exist.
func (s *MinioStore) Init(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Get downloads the object at ref.
func (s *MinioStore) Get(ctx context.Context, ref string) ([]byte, error) {
	name, err := cleanRef(ref)
	if err != nil {
		return nil, err
	}
	obj, err := s.mc.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", s.bucket, name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, matcherr.NewNotFound("image", ref)
		}
		return nil, fmt.Errorf("read %s/%s: %w", s.bucket, name, err)
	}
	return data, nil
}

// Put uploads data at ref.
func (s *MinioStore) Put(ctx context.Context, ref string, data []byte) error {
	name, err := cleanRef(ref)
	if err != nil {
		return err
	}
	_, err = s.mc.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: http.DetectContentType(data),
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", s.bucket, name, err)
	}
	return nil
}

// Delete removes the object at ref.
func (s *MinioStore) Delete(ctx context.Context, ref string) error {
	name, err := cleanRef(ref)
	if err != nil {
		return err
	}
	if err := s.mc.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", s.bucket, name, err)
	}
	return nil
}

// Name returns "minio:<bucket>".
func (s *MinioStore) Name() string {
	return "minio:" + s.bucket
}
