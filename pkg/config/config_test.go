package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zumahq/billing/pkg/config"
)

func TestLoad(t *testing.T) {
	type loadConfig struct {
		Host  string `env:"CONFIG_TEST_HOST" envDefault:"localhost"`
		Port  int    `env:"CONFIG_TEST_PORT" envDefault:"8080"`
		Debug bool   `env:"CONFIG_TEST_DEBUG"`
	}

	t.Setenv("CONFIG_TEST_HOST", "billing.internal")
	t.Setenv("CONFIG_TEST_DEBUG", "true")

	var cfg loadConfig
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, "billing.internal", cfg.Host)
	assert.Equal(t, 8080, cfg.Port, "default applies when unset")
	assert.True(t, cfg.Debug)
}

func TestLoad_CachesPerType(t *testing.T) {
	type cachedConfig struct {
		Value string `env:"CONFIG_TEST_CACHED" envDefault:"first"`
	}

	var first cachedConfig
	require.NoError(t, config.Load(&first))
	require.Equal(t, "first", first.Value)

	// A later change to the environment is invisible: the type was parsed
	// once and the cached copy wins.
	t.Setenv("CONFIG_TEST_CACHED", "second")
	var second cachedConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "first", second.Value)
}

func TestLoad_RequiredMissing(t *testing.T) {
	type requiredConfig struct {
		Secret string `env:"CONFIG_TEST_REQUIRED_MISSING,required"`
	}

	var cfg requiredConfig
	err := config.Load(&cfg)
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestLoad_NilPointer(t *testing.T) {
	err := config.Load[struct{}](nil)
	assert.ErrorIs(t, err, config.ErrNilPointer)
}
