package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
)

// Archiver stores raw webhook payloads for later reconciliation.
type Archiver interface {
	Archive(ctx context.Context, provider, eventID, contentType string, payload []byte) error
}

// Nop discards payloads. Used when the archive is disabled.
type Nop struct{}

func (Nop) Archive(context.Context, string, string, string, []byte) error { return nil }

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client writes payloads to an S3 bucket.
type Client struct {
	s3     objectPutter
	config *Config
	now    func() time.Time
}

// New returns a Nop archiver when the archive is disabled, otherwise an S3 client.
func New(ctx context.Context, cfg *Config) (Archiver, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	return NewClient(ctx, cfg)
}

// NewClient creates an S3 archive client.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	log.Infof("[Archive] Webhook payloads will be archived to bucket: %s", cfg.BucketName)
	return newClient(s3Client, cfg), nil
}

func newClient(putter objectPutter, cfg *Config) *Client {
	return &Client{s3: putter, config: cfg, now: time.Now}
}

// Archive uploads one payload. The object key is derived from the provider,
// the current date and the event id.
func (c *Client) Archive(ctx context.Context, provider, eventID, contentType string, payload []byte) error {
	key := c.config.ObjectKey(provider, eventID, c.now())
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.config.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(payload))),
		Metadata: map[string]string{
			"provider":      provider,
			"upload-source": "billing-webhook",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s payload to s3://%s/%s: %w", provider, c.config.BucketName, key, err)
	}
	log.Debugf("[Archive] Stored s3://%s/%s (%d bytes)", c.config.BucketName, key, len(payload))
	return nil
}
