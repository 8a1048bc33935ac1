package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"duetrec/pkg/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type s3Deleter interface {
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store uploads artifacts with the multipart manager.
type S3Store struct {
	uploader      s3Uploader
	client        s3Deleter
	bucket        string
	publicBaseURL string
	logger        *zap.SugaredLogger
}

// NewS3Store builds a client from the storage section. Credentials fall back
// to AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY, then the default chain.
func NewS3Store(ctx context.Context, cfg config.StorageConfig, logger *zap.SugaredLogger) (*S3Store, error) {
	if cfg.S3.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	accessKey := cfg.S3.AccessKeyID
	secretKey := cfg.S3.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
		logger.Infow("S3 client using static credentials", "region", cfg.S3.Region, "bucket", cfg.S3.Bucket)
	} else {
		logger.Warnw("S3 client using default credential chain", "region", cfg.S3.Region, "bucket", cfg.S3.Bucket)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
		o.UsePathStyle = cfg.S3.UsePathStyle
	})
	partSize := cfg.S3.PartSize
	if partSize < manager.MinUploadPartSize {
		partSize = manager.MinUploadPartSize
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
	})

	return newS3Store(uploader, client, cfg.S3.Bucket, cfg.S3.PublicBaseURL, logger), nil
}

func newS3Store(uploader s3Uploader, client s3Deleter, bucket, publicBaseURL string, logger *zap.SugaredLogger) *S3Store {
	return &S3Store{
		uploader:      uploader,
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		logger:        logger,
	}
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	out, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	s.logger.Debugw("Artifact uploaded", "bucket", s.bucket, "key", key, "bytes", size)
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key, nil
	}
	if out != nil && out.Location != "" {
		return out.Location, nil
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}
	return nil
}
