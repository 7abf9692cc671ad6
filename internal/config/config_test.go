package config

import (
	"testing"
	"time"

	"github.com/FerroO2000/bytering/internal"
	"github.com/stretchr/testify/assert"
)

type testConfig struct {
	Capacity    int
	ReadTimeout time.Duration
	ReadMode    string
	Path        string
	Brokers     []string
	Ratio       float64
}

func (c *testConfig) Validate(ac *AnomalyCollector) {
	CheckPositive(ac, "Capacity", &c.Capacity, 1024)
	CheckNotNegative(ac, "ReadTimeout", &c.ReadTimeout, 600*time.Millisecond)
	CheckOneOf(ac, "ReadMode", &c.ReadMode, []string{"blocking", "timeout"}, "blocking")
	CheckNotEmpty(ac, "Path", &c.Path, "out.bin")
	CheckLen(ac, "Brokers", &c.Brokers, []string{"localhost:9092"})
	CheckInRange(ac, "Ratio", &c.Ratio, 0, 1, 0.05)
}

func Test_Validate(t *testing.T) {
	assert := assert.New(t)

	cfg := &testConfig{
		Capacity:    0,
		ReadTimeout: -time.Second,
		ReadMode:    "polling",
		Path:        "",
		Brokers:     nil,
		Ratio:       1.5,
	}

	ac := NewAnomalyCollector()
	cfg.Validate(ac)

	assert.Equal(6, ac.Len())
	assert.Equal([]string{"Capacity", "ReadTimeout", "ReadMode", "Path", "Brokers", "Ratio"}, ac.Fields())

	assert.Equal(1024, cfg.Capacity)
	assert.Equal(600*time.Millisecond, cfg.ReadTimeout)
	assert.Equal("blocking", cfg.ReadMode)
	assert.Equal("out.bin", cfg.Path)
	assert.Equal([]string{"localhost:9092"}, cfg.Brokers)
	assert.Equal(0.05, cfg.Ratio)

	// A valid configuration is left untouched
	ac = NewAnomalyCollector()
	cfg.Validate(ac)
	assert.Zero(ac.Len())
}

func Test_CheckNotGreater(t *testing.T) {
	assert := assert.New(t)

	ac := NewAnomalyCollector()

	size := 64
	CheckNotGreater(ac, "ReadSize", &size, 32)
	assert.Equal(32, size)

	CheckNotGreater(ac, "ReadSize", &size, 32)
	assert.Equal(1, ac.Len())
}

func Test_Validator(t *testing.T) {
	assert := assert.New(t)

	validator := NewValidator(internal.NewTelemetry("pipeline", "test"))

	assert.Equal(5, validator.Validate(&testConfig{Ratio: -1}))
	assert.Zero(validator.Validate(&testConfig{
		Capacity: 16, ReadMode: "timeout", Path: "a", Brokers: []string{"b"},
	}))
}
