package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DispatchConfig carries operational thresholds tuned by back-office staff
// without a redeploy.
type DispatchConfig struct {
	// FuelGapMilesThreshold flags delivered loads above this mileage with no
	// fuel expense entries.
	FuelGapMilesThreshold float64 `mapstructure:"fuelGapMilesThreshold"`
	// SyncMaxAttempts bounds accounting sync retries for unexpected failures.
	SyncMaxAttempts int `mapstructure:"syncMaxAttempts"`
	// SyncBatchDelayMillis is the inter-item throttle for batch syncs.
	SyncBatchDelayMillis int `mapstructure:"syncBatchDelayMillis"`
	// SettlementWeekday anchors the weekly settlement period (1 = Monday).
	SettlementWeekday int `mapstructure:"settlementWeekday"`
}

func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		FuelGapMilesThreshold: 300,
		SyncMaxAttempts:       3,
		SyncBatchDelayMillis:  100,
		SettlementWeekday:     1,
	}
}

type DispatchConfigHolder struct {
	current atomic.Value // holds DispatchConfig
}

func NewDispatchConfigHolder() (*DispatchConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("dispatch")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/linehaul/config")
	v.AddConfigPath("/etc/linehaul")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LINEHAUL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultDispatchConfig()
		v.SetDefault("dispatch.fuelGapMilesThreshold", defaults.FuelGapMilesThreshold)
		v.SetDefault("dispatch.syncMaxAttempts", defaults.SyncMaxAttempts)
		v.SetDefault("dispatch.syncBatchDelayMillis", defaults.SyncBatchDelayMillis)
		v.SetDefault("dispatch.settlementWeekday", defaults.SettlementWeekday)
	}

	var cfg DispatchConfig
	if err := v.UnmarshalKey("dispatch", &cfg); err != nil {
		return nil, err
	}
	if err := validateDispatchConfig(cfg); err != nil {
		return nil, err
	}

	holder := &DispatchConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated DispatchConfig
		if err := v.UnmarshalKey("dispatch", &updated); err != nil {
			log.Printf("[dispatch-config] reload failed: %v", err)
			return
		}
		if err := validateDispatchConfig(updated); err != nil {
			log.Printf("[dispatch-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[dispatch-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticDispatchConfigHolder returns a holder pinned to cfg, for tests.
func NewStaticDispatchConfigHolder(cfg DispatchConfig) *DispatchConfigHolder {
	holder := &DispatchConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *DispatchConfigHolder) Get() DispatchConfig {
	if h == nil {
		return DefaultDispatchConfig()
	}
	if cfg, ok := h.current.Load().(DispatchConfig); ok {
		return cfg
	}
	return DefaultDispatchConfig()
}

func validateDispatchConfig(cfg DispatchConfig) error {
	if cfg.FuelGapMilesThreshold < 0 {
		return errors.New("fuelGapMilesThreshold must not be negative")
	}
	if cfg.SyncMaxAttempts < 1 {
		return errors.New("syncMaxAttempts must be at least 1")
	}
	if cfg.SyncBatchDelayMillis < 0 {
		return errors.New("syncBatchDelayMillis must not be negative")
	}
	if cfg.SettlementWeekday < 0 || cfg.SettlementWeekday > 6 {
		return errors.New("settlementWeekday must be between 0 (Sunday) and 6")
	}
	return nil
}
