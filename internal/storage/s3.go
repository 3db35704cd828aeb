package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wzdavid/mineru-api/internal/domain"
)

// S3Storage implements Adapter on native AWS S3 (or any endpoint the AWS SDK
// can address). Namespaces map to buckets, matching the MinIO backend layout.
type S3Storage struct {
	client       *s3.Client
	tempBucket   string
	outputBucket string
}

// S3Config holds connection parameters for the AWS S3 client.
type S3Config struct {
	Endpoint     string // optional custom endpoint; empty means AWS
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	Region       string
	TempBucket   string
	OutputBucket string
}

// NewS3Storage creates an S3-backed adapter.
func NewS3Storage(ctx context.Context, cfg *S3Config) (*S3Storage, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			scheme := "http"
			if cfg.UseSSL {
				scheme = "https"
			}
			endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
			o.BaseEndpoint = aws.String(fmt.Sprintf("%s://%s", scheme, endpoint))
			o.UsePathStyle = true
		}
	})

	return &S3Storage{
		client:       client,
		tempBucket:   cfg.TempBucket,
		outputBucket: cfg.OutputBucket,
	}, nil
}

func (s *S3Storage) Backend() string { return "s3" }

func (s *S3Storage) bucket(ns Namespace) string {
	if ns == NamespaceOutput {
		return s.outputBucket
	}
	return s.tempBucket
}

func (s *S3Storage) Save(ctx context.Context, ns Namespace, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket(ns)),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return wrapS3Err(err)
	}
	return nil
}

func (s *S3Storage) Read(ctx context.Context, ns Namespace, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket(ns)),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapS3Err(err)
	}
	defer out.Body.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, wrapS3Err(err)
	}
	return buf.Bytes(), nil
}

func (s *S3Storage) DownloadToLocal(ctx context.Context, ns Namespace, key, destDir string) (string, error) {
	data, err := s.Read(ctx, ns, key)
	if err != nil {
		return "", err
	}
	local := filepath.Join(destDir, path.Base(key))
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return local, nil
}

func (s *S3Storage) UploadFromLocal(ctx context.Context, localPath string, ns Namespace, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return s.Save(ctx, ns, key, f, info.Size())
}

func (s *S3Storage) Delete(ctx context.Context, ns Namespace, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket(ns)),
		Key:    aws.String(key),
	})
	if err != nil {
		return wrapS3Err(err)
	}
	return nil
}

func (s *S3Storage) DeletePrefix(ctx context.Context, ns Namespace, prefix string) error {
	objects, err := s.List(ctx, ns, prefix)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := s.Delete(ctx, ns, obj.Key); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3Storage) List(ctx context.Context, ns Namespace, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket(ns)),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapS3Err(err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Namespace:    ns,
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

func (s *S3Storage) Exists(ctx context.Context, ns Namespace, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket(ns)),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) || strings.Contains(err.Error(), "NotFound") {
			return false, nil
		}
		return false, wrapS3Err(err)
	}
	return true, nil
}

// wrapS3Err maps AWS SDK failures onto the shared error taxonomy.
func wrapS3Err(err error) error {
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
}
