package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/wzdavid/mineru-api/internal/domain"
)

// MinIOStorage implements Adapter on any S3-compatible endpoint via the MinIO
// client. Each namespace maps to its own bucket so the temp bucket can carry
// a native lifecycle-expiry rule independent of outputs.
type MinIOStorage struct {
	client       *minio.Client
	tempBucket   string
	outputBucket string
}

// MinIOConfig holds connection parameters for the MinIO client.
type MinIOConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	Region       string
	TempBucket   string
	OutputBucket string
}

// NewMinIOStorage creates the client and ensures both namespace buckets exist.
func NewMinIOStorage(ctx context.Context, cfg *MinIOConfig) (*MinIOStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	s := &MinIOStorage{
		client:       client,
		tempBucket:   cfg.TempBucket,
		outputBucket: cfg.OutputBucket,
	}
	for _, bucket := range []string{cfg.TempBucket, cfg.OutputBucket} {
		if err := s.ensureBucket(ctx, bucket); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MinIOStorage) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return wrapMinIOErr(err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return wrapMinIOErr(err)
		}
	}
	return nil
}

func (s *MinIOStorage) Backend() string { return "minio" }

func (s *MinIOStorage) bucket(ns Namespace) string {
	if ns == NamespaceOutput {
		return s.outputBucket
	}
	return s.tempBucket
}

func (s *MinIOStorage) Save(ctx context.Context, ns Namespace, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket(ns), key, r, size, minio.PutObjectOptions{})
	if err != nil {
		return wrapMinIOErr(err)
	}
	return nil
}

func (s *MinIOStorage) Read(ctx context.Context, ns Namespace, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket(ns), key, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapMinIOErr(err)
	}
	defer obj.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj); err != nil {
		return nil, wrapMinIOErr(err)
	}
	return buf.Bytes(), nil
}

func (s *MinIOStorage) DownloadToLocal(ctx context.Context, ns Namespace, key, destDir string) (string, error) {
	local := filepath.Join(destDir, path.Base(key))
	if err := s.client.FGetObject(ctx, s.bucket(ns), key, local, minio.GetObjectOptions{}); err != nil {
		os.Remove(local)
		return "", wrapMinIOErr(err)
	}
	return local, nil
}

func (s *MinIOStorage) UploadFromLocal(ctx context.Context, localPath string, ns Namespace, key string) error {
	if _, err := s.client.FPutObject(ctx, s.bucket(ns), key, localPath, minio.PutObjectOptions{}); err != nil {
		return wrapMinIOErr(err)
	}
	return nil
}

func (s *MinIOStorage) Delete(ctx context.Context, ns Namespace, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket(ns), key, minio.RemoveObjectOptions{}); err != nil {
		return wrapMinIOErr(err)
	}
	return nil
}

func (s *MinIOStorage) DeletePrefix(ctx context.Context, ns Namespace, prefix string) error {
	bucket := s.bucket(ns)
	objects := s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return wrapMinIOErr(obj.Err)
		}
		if err := s.client.RemoveObject(ctx, bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return wrapMinIOErr(err)
		}
	}
	return nil
}

func (s *MinIOStorage) List(ctx context.Context, ns Namespace, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket(ns), minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, wrapMinIOErr(obj.Err)
		}
		objects = append(objects, ObjectInfo{
			Namespace:    ns,
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return objects, nil
}

func (s *MinIOStorage) Exists(ctx context.Context, ns Namespace, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket(ns), key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, wrapMinIOErr(err)
	}
	return true, nil
}

// wrapMinIOErr maps MinIO responses onto the shared error taxonomy.
func wrapMinIOErr(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	case "QuotaExceeded", "XMinioAdminBucketQuotaExceeded", "XMinioStorageFull":
		return fmt.Errorf("%w: %v", domain.ErrStorageQuotaExceeded, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
}
