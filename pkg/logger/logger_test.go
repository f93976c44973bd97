package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zumahq/billing/pkg/logger"
)

func TestNew_DefaultsToJSONInfo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf))

	log.Debug("hidden")
	log.Info("shown")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "shown", record["msg"])
}

func TestNew_TextFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithFormat(logger.FormatText),
		logger.WithLevel(slog.LevelDebug),
	)

	log.Debug("dev message")
	assert.Contains(t, buf.String(), "dev message")
	assert.Contains(t, buf.String(), "level=DEBUG")
}

func TestNew_StaticAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithAttr(slog.String("service", "billing")),
	)

	log.Info("hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "billing", record["service"])
}

func TestWithEnvironment(t *testing.T) {
	t.Parallel()

	t.Run("production logs JSON at info", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(
			logger.WithEnvironment("production", "billing"),
			logger.WithOutput(&buf),
		)

		log.Debug("hidden")
		require.Zero(t, buf.Len())

		log.Info("shown")
		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "billing", record["service"])
		assert.Equal(t, "production", record["env"])
	})

	t.Run("development logs text at debug", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(
			logger.WithEnvironment("development", "billing"),
			logger.WithOutput(&buf),
		)

		log.Debug("visible")
		assert.Contains(t, buf.String(), "visible")
	})
}
