package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaultsWhenUnset(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, 2, cfg.CrossNic)
	assert.Equal(t, 2, cfg.P2PPXNLevel)
	assert.Empty(t, cfg.GraphFile)
	assert.Empty(t, cfg.Rings)
	assert.False(t, cfg.ModelMatchingDisable)
}

func TestFromEnvReadsRecognizedVars(t *testing.T) {
	t.Setenv(envGraphFile, "/tmp/graph.xml")
	t.Setenv(envRings, "0 1|1 0")
	t.Setenv(envGraphDumpFile, "/tmp/dump.xml")
	t.Setenv(envCrossNic, "2")
	t.Setenv(envP2PPXNLevel, "1")
	t.Setenv(envModelMatchingDisable, "true")

	cfg := FromEnv()
	assert.Equal(t, "/tmp/graph.xml", cfg.GraphFile)
	assert.Equal(t, "0 1|1 0", cfg.Rings)
	assert.Equal(t, "/tmp/dump.xml", cfg.GraphDumpFile)
	assert.Equal(t, 2, cfg.CrossNic)
	assert.Equal(t, 1, cfg.P2PPXNLevel)
	assert.True(t, cfg.ModelMatchingDisable)
}

func TestFromEnvIgnoresMalformedNumericVars(t *testing.T) {
	t.Setenv(envCrossNic, "not-a-number")
	t.Setenv(envP2PPXNLevel, "also-not-a-number")

	cfg := FromEnv()
	assert.Equal(t, 2, cfg.CrossNic, "a malformed value must leave the NCCL default untouched")
	assert.Equal(t, 2, cfg.P2PPXNLevel, "a malformed value must leave the NCCL default untouched")
}

func TestFromEnvMalformedBoolLeavesModelMatchingEnabled(t *testing.T) {
	t.Setenv(envModelMatchingDisable, "not-a-bool")

	cfg := FromEnv()
	assert.False(t, cfg.ModelMatchingDisable)
}

func TestBindFlagsDefaultsToExistingConfigValues(t *testing.T) {
	cfg := FromEnv()
	cfg.CrossNic = 1
	cfg.Rings = "0 1"

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, &cfg)

	a := assert.New(t)
	a.NoError(fs.Parse([]string{"--cross-nic=2", "--graph-file=/tmp/override.xml"}))
	a.Equal(2, cfg.CrossNic)
	a.Equal("/tmp/override.xml", cfg.GraphFile)
	// Unset flags must leave the pre-existing value untouched.
	a.Equal("0 1", cfg.Rings)
}
