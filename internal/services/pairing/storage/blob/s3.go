package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// S3Config configures the S3 blob store.
type S3Config struct {
	Bucket          string `env:"PAIRING_S3_BUCKET"`
	Region          string `env:"PAIRING_S3_REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"PAIRING_S3_ENDPOINT"`
	AccessKeyID     string `env:"PAIRING_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"PAIRING_S3_SECRET_ACCESS_KEY"`
	Prefix          string `env:"PAIRING_S3_PREFIX"`
	CreateBucket    bool   `env:"PAIRING_S3_CREATE_BUCKET"`
}

// S3 stores blobs in an S3-compatible bucket.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
	log    *zap.Logger
}

// NewS3 builds an S3 client. A custom endpoint switches to path-style
// addressing for MinIO-like servers.
func NewS3(ctx context.Context, cfg S3Config, log *zap.Logger) (*S3, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	store := &S3{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		log:    log,
	}
	if cfg.CreateBucket {
		if err := store.ensureBucket(ctx, cfg.Region); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func (s *S3) ensureBucket(ctx context.Context, region string) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}
	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.log.Info("created s3 bucket", zap.String("bucket", s.bucket))
	return nil
}

// Put uploads body to key.
func (s *S3) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = ContentType(key)
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object %s: %w", objectKey, err)
	}
	s.log.Debug("stored s3 object", zap.String("key", objectKey), zap.Int64("size", size))
	return nil
}

// Open downloads the object at key.
func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, Info, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return nil, Info{}, err
	}
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, Info{}, ErrNotFound
		}
		return nil, Info{}, fmt.Errorf("get object %s: %w", objectKey, err)
	}
	info := Info{
		Size:        aws.ToInt64(output.ContentLength),
		ContentType: aws.ToString(output.ContentType),
		ModTime:     aws.ToTime(output.LastModified),
	}
	if info.ContentType == "" {
		info.ContentType = ContentType(key)
	}
	return output.Body, info, nil
}

func (s *S3) objectKey(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return cleaned, nil
	}
	return s.prefix + "/" + cleaned, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}

var _ Store = (*S3)(nil)
