package logging

import (
	"fmt"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/zap/zapcore"
)

// SetLogLevels sets levels for the given systems. The "*" system sets every
// registered system before the others are applied.
func SetLogLevels(systems map[string]logging.LogLevel) error {
	if level, ok := systems["*"]; ok {
		logging.SetAllLoggers(level)
	}
	for sys, level := range systems {
		if sys == "*" {
			continue
		}
		l := zapcore.Level(level)
		if err := logging.SetLogLevel(sys, l.CapitalString()); err != nil {
			return fmt.Errorf("setting level of %s: %v", sys, err)
		}
	}
	return nil
}
