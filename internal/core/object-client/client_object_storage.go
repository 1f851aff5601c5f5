package objectclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbsync/internal/core"
	"github.com/markdave123-py/kbsync/pkg/zlog"
)

// Options holds the S3 settings. Endpoint switches to path-style addressing
// for MinIO and other S3-compatible stores.
type Options struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string
	Timeout   time.Duration
}

type S3Client struct {
	client     *s3.Client
	downloader *manager.Downloader
	timeout    time.Duration
}

var _ core.ObjectClient = (*S3Client)(nil)

func NewS3Client(ctx context.Context, opts Options) (*S3Client, error) {
	if opts.Region == "" {
		return nil, errors.New("AWS_REGION not set")
	}
	if (opts.AccessKey == "") != (opts.SecretKey == "") {
		return nil, errors.New("AWS_ACCESS_KEY and AWS_SECRET_KEY must be set together")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	zlog.Info("s3 client ready", zap.String("region", opts.Region), zap.String("endpoint", opts.Endpoint))

	return &S3Client{
		client:     client,
		downloader: manager.NewDownloader(client),
		timeout:    timeout,
	}, nil
}

// GetFile downloads the whole object into memory. Large objects are fetched
// in concurrent ranged parts by the downloader.
func (c *S3Client) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 get: bucket and key are required")
	}

	ctxGet, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	buf := manager.NewWriteAtBuffer([]byte{})
	_, err := c.downloader.Download(ctxGet, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}

	return buf.Bytes(), nil
}
