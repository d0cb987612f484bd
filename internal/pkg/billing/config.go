package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vdcapital/billing/internal/pkg/env"
)

const defaultPayFastProcessURL = "https://www.payfast.co.za/eng/process"

// Config holds provider credentials and sweep settings.
type Config struct {
	PublicBaseURL      string        `validate:"omitempty,url"`
	PayFastMerchantID  string        `validate:"required_with=PayFastMerchantKey"`
	PayFastMerchantKey string        `validate:"required_with=PayFastMerchantID"`
	PayFastPassphrase  string
	PayFastProcessURL  string        `validate:"required,url"`
	PaystackSecretKey  string
	CronSecret         string
	WebhookTimeout     time.Duration `validate:"gt=0"`
	SweepTimeout       time.Duration `validate:"gt=0"`
	SweepInterval      time.Duration `validate:"gte=0"`
	SweepConcurrency   int           `validate:"gte=1,lte=32"`
}

var configValidator = validator.New()

// LoadConfig reads billing settings from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		PublicBaseURL:      strings.TrimRight(strings.TrimSpace(env.GetEnv("PUBLIC_BASE_URL", "")), "/"),
		PayFastMerchantID:  strings.TrimSpace(env.GetEnv("PAYFAST_MERCHANT_ID", "")),
		PayFastMerchantKey: strings.TrimSpace(env.GetEnv("PAYFAST_MERCHANT_KEY", "")),
		PayFastPassphrase:  env.GetEnv("PAYFAST_PASSPHRASE", ""),
		PayFastProcessURL:  strings.TrimSpace(env.GetEnv("PAYFAST_PROCESS_URL", defaultPayFastProcessURL)),
		PaystackSecretKey:  env.GetEnv("PAYSTACK_SECRET_KEY", ""),
		CronSecret:         env.GetEnv("CRON_SECRET", ""),
	}

	var err error
	if cfg.WebhookTimeout, err = durationFromEnv("WEBHOOK_TIMEOUT_SECONDS", 15, time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepTimeout, err = durationFromEnv("SWEEP_TIMEOUT_SECONDS", 120, time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationFromEnv("SWEEP_INTERVAL_MINUTES", 0, time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepConcurrency, err = intFromEnv("SWEEP_CONCURRENCY", 1); err != nil {
		return nil, err
	}

	if err := configValidator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid billing config: %w", err)
	}
	return cfg, nil
}

// NotifyURL is the PayFast ITN callback for this deployment.
func (c *Config) NotifyURL() string {
	return c.PublicBaseURL + "/api/payfast/notify"
}

func (c *Config) ReturnURL() string {
	return c.PublicBaseURL + "/billing?success=true"
}

func (c *Config) CancelURL() string {
	return c.PublicBaseURL + "/billing?cancelled=true"
}

func intFromEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(env.GetEnv(key, ""))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}

func durationFromEnv(key string, def int, unit time.Duration) (time.Duration, error) {
	v, err := intFromEnv(key, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * unit, nil
}
