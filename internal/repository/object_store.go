package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	s3config "github.com/nauuaf/image-service/internal/config"
	"github.com/nauuaf/image-service/internal/domain"
)

// ObjectStore stores opaque byte blobs under a key. The metadata index, not
// this layer, is the source of truth for existence and ownership.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string, tags map[string]string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	BucketExists(ctx context.Context) bool
}

// endpointURL normalizes a custom endpoint, deriving the scheme from the
// use-SSL setting when the configured value carries none.
func endpointURL(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

type s3ObjectStore struct {
	client *s3.Client
	cfg    *s3config.S3Config
	log    *zap.Logger
}

func NewS3ObjectStore(cfg *s3config.S3Config, log *zap.Logger) (ObjectStore, error) {
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if cfg.Endpoint != "" {
			return aws.Endpoint{
				URL:               endpointURL(cfg.Endpoint, cfg.UseSSL),
				HostnameImmutable: true,
				Source:            aws.EndpointSourceCustom,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithEndpointResolverWithOptions(customResolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path-style addressing for minio-compatible endpoints.
		o.UsePathStyle = cfg.Endpoint != ""
	})

	store := &s3ObjectStore{
		client: client,
		cfg:    cfg,
		log:    log,
	}

	if err := store.ensureBucketExists(context.Background()); err != nil {
		log.Warn("Failed to ensure bucket exists", zap.Error(err))
	}

	return store, nil
}

func (s *s3ObjectStore) ensureBucketExists(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.cfg.BucketName),
	})
	if err == nil {
		return nil
	}

	s.log.Info("Creating bucket", zap.String("bucket", s.cfg.BucketName))

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.cfg.BucketName),
		CreateBucketConfiguration: &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.cfg.Region),
		},
	})
	if err != nil {
		return err
	}

	s.log.Info("Bucket created successfully", zap.String("bucket", s.cfg.BucketName))
	return nil
}

func (s *s3ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string, tags map[string]string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      tags,
	})
	if err != nil {
		s.log.Error("Failed to upload object",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("put object %s: %w", key, err)
	}

	s.log.Info("Object uploaded",
		zap.String("key", key),
		zap.Int("size", len(data)))
	return nil
}

func (s *s3ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, domain.ErrNotFound
		}
		s.log.Error("Failed to download object",
			zap.String("key", key),
			zap.Error(err))
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the object. Deleting a nonexistent key is not an error.
func (s *s3ObjectStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		s.log.Error("Failed to delete object",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (s *s3ObjectStore) BucketExists(ctx context.Context) bool {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.cfg.BucketName),
	})
	return err == nil
}
