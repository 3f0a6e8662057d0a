package skstack

import (
	"time"

	"go.uber.org/zap"
)

type Instrument struct {
	RecordTime func(command string, elapsed time.Duration)
}

func RecordTimer(name string, instrument []Instrument) func() {
	if len(instrument) == 0 {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

func traceLoggerInstrumentation(logger *zap.Logger) *Instrument {
	if !logger.Core().Enabled(zap.DebugLevel) {
		return nil
	}
	return &Instrument{
		RecordTime: func(command string, elapsed time.Duration) {
			logger.Debug("modem command timing", zap.String("command", command), zap.Duration("elapsed", elapsed))
		},
	}
}

// commandName is the first word of a modem command, used as the timer label.
func commandName(command string) string {
	for i := 0; i < len(command); i++ {
		if command[i] == ' ' {
			return command[:i]
		}
	}
	return command
}
