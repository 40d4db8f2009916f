package characters

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Pinner mirrors a profile document to external storage and returns the
// location it can be fetched from.
type Pinner interface {
	Pin(ctx context.Context, key string, data []byte) (string, error)
}

// PinnerFunc adapts a function to Pinner.
type PinnerFunc func(ctx context.Context, key string, data []byte) (string, error)

func (f PinnerFunc) Pin(ctx context.Context, key string, data []byte) (string, error) {
	return f(ctx, key, data)
}

// S3Config configures the S3 mirror.
type S3Config struct {
	BucketName  string // S3 bucket name
	Region      string // AWS region
	AccessKeyID string // optional, default credential chain when empty
	SecretKey   string
	Endpoint    string // custom endpoint, e.g. MinIO
	PathPrefix  string // key prefix, e.g. "characters"
}

// S3Pinner uploads snapshots to an S3 bucket.
type S3Pinner struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Pinner(ctx context.Context, cfg S3Config) (*S3Pinner, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("s3: bucket name is required")
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Pinner{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.BucketName,
		prefix: cfg.PathPrefix,
	}, nil
}

func (p *S3Pinner) Pin(ctx context.Context, key string, data []byte) (string, error) {
	objectKey := path.Join(p.prefix, key)
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3: put %s: %w", objectKey, err)
	}
	return fmt.Sprintf("s3://%s/%s", p.bucket, objectKey), nil
}
