package features

import (
	"time"

	"github.com/r3e-network/fraudctl/internal/app/domain/featureset"
)

// DefaultConfig returns the documented default feature-selection config.
func DefaultConfig() featureset.Config {
	return featureset.Config{
		EnableTransaction: true,
		EnableBehavioral:  true,
		EnableTemporal:    true,
		EnableAggregation: true,

		AggregationWindows: []time.Duration{
			time.Hour,
			6 * time.Hour,
			24 * time.Hour,
			7 * 24 * time.Hour,
			30 * 24 * time.Hour,
		},

		VarianceThreshold:    0.01,
		CorrelationThreshold: 0.95,
		MutualInfoK:          5,
		MaxFeatures:          30,
	}
}

// withDefaults fills zero-valued fields of cfg with DefaultConfig's values,
// so callers may pass a partially-specified Config.
func withDefaults(cfg featureset.Config) featureset.Config {
	def := DefaultConfig()
	if cfg.VarianceThreshold == 0 {
		cfg.VarianceThreshold = def.VarianceThreshold
	}
	if cfg.CorrelationThreshold == 0 {
		cfg.CorrelationThreshold = def.CorrelationThreshold
	}
	if cfg.MutualInfoK == 0 {
		cfg.MutualInfoK = def.MutualInfoK
	}
	if cfg.MaxFeatures == 0 {
		cfg.MaxFeatures = def.MaxFeatures
	}
	if len(cfg.AggregationWindows) == 0 {
		cfg.AggregationWindows = def.AggregationWindows
	}
	return cfg
}
