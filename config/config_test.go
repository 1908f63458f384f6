package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "fern", cfg.AppName)
	assert.Equal(t, 0.7, cfg.MatchHighThreshold)
	assert.Equal(t, 0.5, cfg.MatchLowThreshold)
	assert.Equal(t, 0.3, cfg.MatchScoreFloor)
	assert.True(t, cfg.MatchSoleCandidate)
	assert.Equal(t, 4, cfg.PipelineScopeWorkers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MATCH_HIGH_THRESHOLD", "0.8")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.MatchHighThreshold)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"low above high", func(c *Config) { c.MatchLowThreshold = 0.9 }, true},
		{"floor of one", func(c *Config) { c.MatchScoreFloor = 1 }, true},
		{"no scope workers", func(c *Config) { c.PipelineScopeWorkers = 0 }, true},
		{"no oracle slots", func(c *Config) { c.OracleMaxConcurrency = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Config{
				MatchHighThreshold:   0.7,
				MatchLowThreshold:    0.5,
				MatchScoreFloor:      0.3,
				PipelineScopeWorkers: 2,
				OracleMaxConcurrency: 1,
			}
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
