package config

import (
	"iter"
	"slices"
)

type anomaly struct {
	field    string
	reason   string
	actual   any
	fallback any
}

// AnomalyCollector is an utility struct for collecting anomalies.
// An anomaly is an invalid configuration value that has been
// replaced by its fallback.
type AnomalyCollector struct {
	anomalies []*anomaly
}

// NewAnomalyCollector returns a new empty anomaly collector.
func NewAnomalyCollector() *AnomalyCollector {
	return &AnomalyCollector{
		anomalies: []*anomaly{},
	}
}

func (ac *AnomalyCollector) add(field, reason string, actual, fallback any) {
	ac.anomalies = append(ac.anomalies, &anomaly{
		field:    field,
		reason:   reason,
		actual:   actual,
		fallback: fallback,
	})
}

// Len returns the number of collected anomalies.
func (ac *AnomalyCollector) Len() int {
	return len(ac.anomalies)
}

// Fields returns the names of the fields that had an anomaly, in order.
func (ac *AnomalyCollector) Fields() []string {
	fields := make([]string, 0, len(ac.anomalies))
	for an := range ac.iter() {
		fields = append(fields, an.field)
	}
	return fields
}

func (ac *AnomalyCollector) iter() iter.Seq[*anomaly] {
	return slices.Values(ac.anomalies)
}
