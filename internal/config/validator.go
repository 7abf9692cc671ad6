package config

import (
	"github.com/FerroO2000/bytering/internal"
)

// Validator is an utility struct for validating a configuration.
type Validator struct {
	tel *internal.Telemetry
}

// NewValidator returns a new validator.
func NewValidator(tel *internal.Telemetry) *Validator {
	return &Validator{
		tel: tel,
	}
}

// Validate validates the given configuration, logging a warning
// for every value that has been replaced by its fallback.
// It returns the number of anomalies found.
func (v *Validator) Validate(config Config) int {
	ac := NewAnomalyCollector()
	config.Validate(ac)

	for an := range ac.iter() {
		v.handleAnomaly(an)
	}

	return ac.Len()
}

func (v *Validator) handleAnomaly(an *anomaly) {
	v.tel.LogWarn("config anomaly",
		"field", an.field, "reason", an.reason,
		"actual", an.actual, "fallback", an.fallback)
}
