package logging_test

import (
	"testing"

	"github.com/hookdeck/taskd/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  zap.AtomicLevel
	}{
		{"debug", zap.NewAtomicLevelAt(zap.DebugLevel)},
		{"DEBUG", zap.NewAtomicLevelAt(zap.DebugLevel)},
		{"warn", zap.NewAtomicLevelAt(zap.WarnLevel)},
		{"error", zap.NewAtomicLevelAt(zap.ErrorLevel)},
		{"", zap.NewAtomicLevelAt(zap.InfoLevel)},
		{"bogus", zap.NewAtomicLevelAt(zap.InfoLevel)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want.Level(), logging.ParseLevel(tt.input).Level())
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	logger, err := logging.NewLogger(logging.WithLogLevel("debug"))
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	devLogger, err := logging.NewLogger(logging.WithDevelopment(true))
	require.NoError(t, err)
	assert.False(t, devLogger.Core().Enabled(zap.DebugLevel))
}
