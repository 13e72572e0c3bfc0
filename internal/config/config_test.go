package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RAZORPAY_KEY_ID", "")
	t.Setenv("RAZORPAY_KEY_SECRET", "")
	t.Setenv("RAZORPAY_WEBHOOK_SECRET", "")
	t.Setenv("RAZORPAY_BASE_URL", "")
	t.Setenv("PAYMENT_CURRENCY", "")

	cfg := Load()

	assert.Equal(t, "https://api.razorpay.com/v1", cfg.Payments.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Payments.Timeout)
	assert.Equal(t, 2, cfg.Payments.MaxRetries)
	assert.Equal(t, "INR", cfg.Payments.Currency)
	assert.Equal(t, 20, cfg.DBMaxOpenConn)
	assert.Equal(t, 5, cfg.DBMaxIdleConn)
	assert.False(t, cfg.Payments.Ready())
	assert.False(t, cfg.Payments.WebhookReady())
}

func TestLoadPaymentsFromEnv(t *testing.T) {
	t.Setenv("RAZORPAY_KEY_ID", " rzp_test_key ")
	t.Setenv("RAZORPAY_KEY_SECRET", "secret")
	t.Setenv("RAZORPAY_WEBHOOK_SECRET", "whsec")
	t.Setenv("RAZORPAY_BASE_URL", "http://localhost:9999/v1/")
	t.Setenv("RAZORPAY_TIMEOUT", "3s")
	t.Setenv("RAZORPAY_MAX_RETRIES", "bogus")

	cfg := Load()

	assert.Equal(t, "rzp_test_key", cfg.Payments.KeyID)
	assert.Equal(t, "http://localhost:9999/v1", cfg.Payments.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Payments.Timeout)
	assert.Equal(t, 2, cfg.Payments.MaxRetries)
	assert.True(t, cfg.Payments.Ready())
	assert.True(t, cfg.Payments.WebhookReady())
}

func TestReconcilePolicyDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewReconcilePolicyHolder(Config{ReconcileConfigPath: dir}, zap.NewNop())
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, DefaultReconcilePolicy(), policy)
	assert.True(t, policy.Handles("payment.captured"))
	assert.False(t, policy.Handles("refund.processed"))
}

func TestReconcilePolicyFromFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`reconcile:
  enabled: false
  interval: 1m
  stale_after: 10m
  batch_size: 5
  handled_events:
    - payment.captured
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reconcile.yml"), content, 0o600))

	holder, err := NewReconcilePolicyHolder(Config{ReconcileConfigPath: dir}, zap.NewNop())
	require.NoError(t, err)

	policy := holder.Get()
	assert.False(t, policy.Enabled)
	assert.Equal(t, time.Minute, policy.Interval)
	assert.Equal(t, 10*time.Minute, policy.StaleAfter)
	assert.Equal(t, 5, policy.BatchSize)
	assert.True(t, policy.Handles("payment.captured"))
	assert.False(t, policy.Handles("payment.failed"))
}

func TestReconcilePolicyRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`reconcile:
  batch_size: 0
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reconcile.yml"), content, 0o600))

	_, err := NewReconcilePolicyHolder(Config{ReconcileConfigPath: dir}, zap.NewNop())
	require.Error(t, err)
}
