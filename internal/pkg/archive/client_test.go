package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	if params.Body != nil {
		f.body, _ = io.ReadAll(params.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestClient_Archive(t *testing.T) {
	putter := &fakePutter{}
	c := newClient(putter, &Config{BucketName: "billing-archive", Prefix: "webhooks"})
	c.now = func() time.Time { return time.Date(2024, 2, 29, 23, 0, 0, 0, time.FixedZone("SAST", 2*60*60)) }

	err := c.Archive(context.Background(), "paystack", "charge.success:ref_1", "application/json", []byte(`{"a":1}`))
	require.NoError(t, err)

	assert.Equal(t, "billing-archive", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "webhooks/paystack/2024/02/29/charge.success_ref_1", aws.ToString(putter.input.Key))
	assert.Equal(t, "application/json", aws.ToString(putter.input.ContentType))
	assert.Equal(t, int64(7), aws.ToInt64(putter.input.ContentLength))
	assert.Equal(t, `{"a":1}`, string(putter.body))
	assert.Equal(t, "paystack", putter.input.Metadata["provider"])
}

func TestClient_ArchiveError(t *testing.T) {
	putter := &fakePutter{err: errors.New("access denied")}
	c := newClient(putter, &Config{BucketName: "b"})

	err := c.Archive(context.Background(), "payfast", "1:COMPLETE", "application/x-www-form-urlencoded", []byte("a=1"))
	assert.ErrorContains(t, err, "access denied")
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "payfast/2024/01/05/unknown", (&Config{}).ObjectKey("payfast", " ", at))
	assert.Equal(t, "x/payfast/2024/01/05/a_b_c", (&Config{Prefix: "x"}).ObjectKey("payfast", "a/b c", at))
}

func TestLoadConfig(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		t.Setenv("BILLING_ARCHIVE_ENABLED", "")
		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.False(t, cfg.Enabled)

		a, err := New(context.Background(), cfg)
		require.NoError(t, err)
		assert.IsType(t, Nop{}, a)
	})

	t.Run("enabled requires credentials", func(t *testing.T) {
		t.Setenv("BILLING_ARCHIVE_ENABLED", "true")
		t.Setenv("S3_ACCESS_KEY_ID", "")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("enabled", func(t *testing.T) {
		t.Setenv("BILLING_ARCHIVE_ENABLED", "true")
		t.Setenv("S3_ACCESS_KEY_ID", "id")
		t.Setenv("S3_SECRET_ACCESS_KEY", "secret")
		t.Setenv("S3_BUCKET_NAME", "bucket")
		t.Setenv("S3_ARCHIVE_PREFIX", "/billing/")
		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.True(t, cfg.Enabled)
		assert.Equal(t, "billing", cfg.Prefix)
	})
}
