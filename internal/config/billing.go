package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingPolicy holds operator-tunable billing behavior. Loaded from
// billing.yml and hot-reloaded on change; money-moving code reads it through
// the holder on every operation so a reload applies to the next request.
type BillingPolicy struct {
	// TaxRateBasisPoints applies to taxable invoice lines. 1100 = 11%.
	TaxRateBasisPoints int64 `mapstructure:"taxRateBasisPoints"`
	// GracePeriodDays is the window after expiry before suspension.
	GracePeriodDays int `mapstructure:"gracePeriodDays"`
	// InvoiceDueDays sets DueAt relative to IssuedAt at finalize time.
	InvoiceDueDays int `mapstructure:"invoiceDueDays"`
	// ReminderAgeHours controls when a pending adjustment triggers a
	// reminder in the hourly sweep.
	ReminderAgeHours int `mapstructure:"reminderAgeHours"`
	// PaymentRetries bounds renewal collection attempts per scan.
	PaymentRetries int `mapstructure:"paymentRetries"`
}

func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{
		TaxRateBasisPoints: 0,
		GracePeriodDays:    3,
		InvoiceDueDays:     14,
		ReminderAgeHours:   24,
		PaymentRetries:     3,
	}
}

type BillingPolicyHolder struct {
	current atomic.Value // holds BillingPolicy
}

func NewBillingPolicyHolder() (*BillingPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/billing/config")
	v.AddConfigPath("/etc/billing")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingPolicy()
	v.SetDefault("billing.taxRateBasisPoints", defaults.TaxRateBasisPoints)
	v.SetDefault("billing.gracePeriodDays", defaults.GracePeriodDays)
	v.SetDefault("billing.invoiceDueDays", defaults.InvoiceDueDays)
	v.SetDefault("billing.reminderAgeHours", defaults.ReminderAgeHours)
	v.SetDefault("billing.paymentRetries", defaults.PaymentRetries)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var policy BillingPolicy
	if err := v.UnmarshalKey("billing", &policy); err != nil {
		return nil, err
	}
	if err := validateBillingPolicy(policy); err != nil {
		return nil, err
	}

	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingPolicy
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-policy] reload failed: %v", err)
			return
		}
		if err := validateBillingPolicy(updated); err != nil {
			log.Printf("[billing-policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBillingPolicyHolder wraps a fixed policy, used by tests.
func NewStaticBillingPolicyHolder(policy BillingPolicy) *BillingPolicyHolder {
	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *BillingPolicyHolder) Get() BillingPolicy {
	return h.current.Load().(BillingPolicy)
}

func validateBillingPolicy(policy BillingPolicy) error {
	if policy.TaxRateBasisPoints < 0 || policy.TaxRateBasisPoints > 10000 {
		return errors.New("billing.taxRateBasisPoints must be within [0, 10000]")
	}
	if policy.GracePeriodDays < 0 {
		return errors.New("billing.gracePeriodDays cannot be negative")
	}
	if policy.InvoiceDueDays <= 0 {
		return errors.New("billing.invoiceDueDays must be positive")
	}
	if policy.ReminderAgeHours <= 0 {
		return errors.New("billing.reminderAgeHours must be positive")
	}
	return nil
}
