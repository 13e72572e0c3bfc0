package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ReconcilePolicy controls which webhook events are applied and how the
// stale transaction sweeper behaves.
type ReconcilePolicy struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	BatchSize     int           `mapstructure:"batch_size"`
	HandledEvents []string      `mapstructure:"handled_events"`
}

func DefaultReconcilePolicy() ReconcilePolicy {
	return ReconcilePolicy{
		Enabled:       true,
		Interval:      5 * time.Minute,
		StaleAfter:    30 * time.Minute,
		BatchSize:     50,
		HandledEvents: []string{"payment.captured", "payment.failed", "order.paid"},
	}
}

// Handles reports whether the webhook event type should be processed.
func (p ReconcilePolicy) Handles(event string) bool {
	event = strings.TrimSpace(event)
	for _, handled := range p.HandledEvents {
		if strings.EqualFold(handled, event) {
			return true
		}
	}
	return false
}

type ReconcilePolicyHolder struct {
	current atomic.Value // holds ReconcilePolicy
}

// NewStaticReconcilePolicyHolder returns a holder that never reloads.
func NewStaticReconcilePolicyHolder(policy ReconcilePolicy) *ReconcilePolicyHolder {
	holder := &ReconcilePolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewReconcilePolicyHolder(cfg Config, log *zap.Logger) (*ReconcilePolicyHolder, error) {
	log = log.Named("config.reconcile")
	v := viper.New()

	v.SetConfigName("reconcile")
	v.SetConfigType("yml")
	if path := strings.TrimSpace(cfg.ReconcileConfigPath); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("/etc/storefront")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultReconcilePolicy()
	v.SetDefault("reconcile.enabled", defaults.Enabled)
	v.SetDefault("reconcile.interval", defaults.Interval)
	v.SetDefault("reconcile.stale_after", defaults.StaleAfter)
	v.SetDefault("reconcile.batch_size", defaults.BatchSize)
	v.SetDefault("reconcile.handled_events", defaults.HandledEvents)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var policy ReconcilePolicy
	if err := v.UnmarshalKey("reconcile", &policy); err != nil {
		return nil, err
	}
	if err := validateReconcilePolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticReconcilePolicyHolder(policy)
	if !fileLoaded {
		log.Info("reconcile policy file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ReconcilePolicy
		if err := v.UnmarshalKey("reconcile", &updated); err != nil {
			log.Warn("reconcile policy reload failed", zap.Error(err))
			return
		}
		if err := validateReconcilePolicy(updated); err != nil {
			log.Warn("invalid reconcile policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reconcile policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *ReconcilePolicyHolder) Get() ReconcilePolicy {
	return h.current.Load().(ReconcilePolicy)
}

func validateReconcilePolicy(policy ReconcilePolicy) error {
	if policy.Interval <= 0 {
		return errors.New("reconcile.interval must be positive")
	}
	if policy.StaleAfter <= 0 {
		return errors.New("reconcile.stale_after must be positive")
	}
	if policy.BatchSize <= 0 {
		return errors.New("reconcile.batch_size must be positive")
	}
	if len(policy.HandledEvents) == 0 {
		return errors.New("reconcile.handled_events cannot be empty")
	}
	return nil
}
