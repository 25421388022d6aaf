package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		l, err := New(level, "json")
		require.NoError(t, err, level)
		require.NotNil(t, l)
	}
}

func TestNewOff(t *testing.T) {
	l, err := New("off", "json")
	require.NoError(t, err)
	assert.NotNil(t, l)
	assert.False(t, l.Core().Enabled(zapcore.ErrorLevel))
}

func TestNewBadLevel(t *testing.T) {
	_, err := New("loud", "json")
	assert.Error(t, err)
}

func TestNewBadFormat(t *testing.T) {
	_, err := New("info", "xml")
	assert.Error(t, err)
}

func TestHooks(t *testing.T) {
	var entries []zapcore.Entry
	l, err := New("error", "json", func(e zapcore.Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)

	l.Info("ignored")
	l.Error("boom")
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].Message)
}
