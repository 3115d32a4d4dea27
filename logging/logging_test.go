package logging

import (
	"testing"

	logging "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSetLogLevels(t *testing.T) {
	l := logging.Logger("logging-test")

	err := SetLogLevels(map[string]logging.LogLevel{"logging-test": logging.LevelDebug})
	require.NoError(t, err)
	require.True(t, l.Desugar().Core().Enabled(zapcore.DebugLevel))

	err = SetLogLevels(map[string]logging.LogLevel{"*": logging.LevelWarn})
	require.NoError(t, err)
	require.False(t, l.Desugar().Core().Enabled(zapcore.InfoLevel))

	err = SetLogLevels(map[string]logging.LogLevel{"not-registered": logging.LevelInfo})
	require.Error(t, err)
}
