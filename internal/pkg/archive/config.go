package archive

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vdcapital/billing/internal/pkg/env"
)

// Config holds the S3 settings for the webhook payload archive.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig loads archive configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "af-south-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          strings.Trim(env.GetEnv("S3_ARCHIVE_PREFIX", "webhooks"), "/"),
		Enabled:         env.GetEnv("BILLING_ARCHIVE_ENABLED", "false") == "true",
	}

	if cfg.Enabled {
		if cfg.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when the webhook archive is enabled")
		}
		if cfg.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when the webhook archive is enabled")
		}
		if cfg.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when the webhook archive is enabled")
		}
	}

	return cfg, nil
}

// ObjectKey returns <prefix>/<provider>/YYYY/MM/DD/<event id>.
func (c *Config) ObjectKey(provider, eventID string, at time.Time) string {
	at = at.UTC()
	key := fmt.Sprintf("%s/%04d/%02d/%02d/%s", provider, at.Year(), int(at.Month()), at.Day(), keySafe(eventID))
	if c.Prefix == "" {
		return key
	}
	return c.Prefix + "/" + key
}

var keyReplacer = strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_")

func keySafe(s string) string {
	s = keyReplacer.Replace(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
