package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/olegkotsar/ncbi-sync/config"
	"golang.org/x/time/rate"

	s3config "github.com/aws/aws-sdk-go-v2/config"
)

var _ Transport = (*S3Transport)(nil)

// S3API is the subset of the S3 client the transport needs, so tests can
// provide a custom implementation.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Transport reads the archive tree from an S3-compatible mirror. Object
// keys are the archive paths below an optional prefix.
type S3Transport struct {
	client  S3API
	config  *config.S3Config
	common  *config.CommonTransportConfig
	limiter *rate.Limiter
}

func NewS3Transport(cfg *config.S3Config, common *config.CommonTransportConfig) (*S3Transport, error) {
	common.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid s3 config: %w", err)
	}

	// For S3-compatible storage, region is often just a placeholder
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	var creds aws.CredentialsProvider = aws.AnonymousCredentials{}
	if cfg.AccessKeyID != "" {
		creds = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	s3cfg, err := s3config.LoadDefaultConfig(
		context.TODO(),
		s3config.WithRegion(region),
		s3config.WithCredentialsProvider(creds),
		// Suppress AWS SDK logging warnings about missing checksums
		s3config.WithClientLogMode(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}

	client := s3.NewFromConfig(s3cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return newS3TransportWithClient(client, cfg, common), nil
}

func newS3TransportWithClient(client S3API, cfg *config.S3Config, common *config.CommonTransportConfig) *S3Transport {
	return &S3Transport{
		client:  client,
		config:  cfg,
		common:  common,
		limiter: newLimiter(common.MaxRPS),
	}
}

func (c *S3Transport) Name() string { return "s3" }

func (c *S3Transport) key(remotePath string) string {
	if c.config.Prefix == "" {
		return cleanPath(remotePath)
	}
	return path.Join(cleanPath(c.config.Prefix), cleanPath(remotePath))
}

// Open downloads one object and returns its body
func (c *S3Transport) Open(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	if err := waitLimiter(ctx, c.limiter); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(c.common.TimeoutSeconds)*time.Second)
	// Note: We cannot defer cancel() here because the reader needs to stay open

	result, err := c.client.GetObject(reqCtx, &s3.GetObjectInput{
		Bucket: aws.String(c.config.Bucket),
		Key:    aws.String(c.key(remotePath)),
	})
	if err != nil {
		cancel()
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, notFound("get_object", remotePath, err)
		}
		return nil, classify("get_object", remotePath, err)
	}

	return &contextAwareReader{ReadCloser: result.Body, cancel: cancel}, nil
}

func (c *S3Transport) Close() error { return nil }
