package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevelRoundTrip(t *testing.T) {
	for _, level := range []LogLevel{LogLevelOff, LogLevelError, LogLevelWarn, LogLevelInfo, LogLevelDebug} {
		var parsed LogLevel
		require.NoError(t, parsed.UnmarshalText([]byte(level.String())))
		assert.Equal(t, level, parsed)
	}
}

func TestLogLevelUnmarshalIsCaseInsensitive(t *testing.T) {
	var level LogLevel
	require.NoError(t, level.UnmarshalText([]byte("debug")))
	assert.Equal(t, LogLevelDebug, level)
}

func TestLogLevelUnmarshalRejectsUnknown(t *testing.T) {
	var level LogLevel
	assert.Error(t, level.UnmarshalText([]byte("verbose")))
}

func TestMockLoggerRecordsErrors(t *testing.T) {
	logger := &MockLogger{}
	logger.On("Error", "boom", []any{"key", "value"}).Once()

	logger.Error("boom", "key", "value")

	assert.Equal(t, 1, logger.ErrorCallCount)
	assert.Equal(t, "boom", logger.LastErrorMessage)
	logger.AssertExpectations(t)
}
