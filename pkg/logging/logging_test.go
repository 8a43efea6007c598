package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	logger, err := New("debug", true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = New("", false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))

	logger, err = New("WARN", false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New("loud", false)
	assert.Error(t, err)
}
