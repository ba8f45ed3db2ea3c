package app

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/charlesng35/ticketdesk/pkg/logger"
)

func TestConfigureLogging(t *testing.T) {
	t.Cleanup(func() {
		logger.Replace(zap.NewNop())
		require.NoError(t, logger.SetLevel("info"))
	})

	require.NoError(t, ConfigureLogging(ServerConfig{LogLevel: "debug", LogFormat: "console"}))
	require.Equal(t, zapcore.DebugLevel, logger.Level())

	require.NoError(t, ConfigureLogging(ServerConfig{}))
	require.Equal(t, zapcore.InfoLevel, logger.Level())

	require.Error(t, ConfigureLogging(ServerConfig{LogFormat: "xml"}))
	require.Error(t, ConfigureLogging(ServerConfig{LogLevel: "loud"}))
}
