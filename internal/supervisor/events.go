package supervisor

import (
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

// EventHook logs supervisor events through zap.
func EventHook(log *zap.Logger) suture.EventHook {
	if log == nil {
		log = zap.NewNop()
	}

	return func(e suture.Event) {
		fields := make([]zap.Field, 0, len(e.Map()))
		for k, v := range e.Map() {
			fields = append(fields, zap.Any(k, v))
		}

		switch e.(type) {
		case suture.EventServicePanic:
			log.Error("Service panicked", fields...)
		case suture.EventServiceTerminate:
			log.Warn("Service terminated", fields...)
		case suture.EventBackoff:
			log.Warn("Supervisor entering backoff", fields...)
		case suture.EventResume:
			log.Info("Supervisor resuming", fields...)
		case suture.EventStopTimeout:
			log.Error("Service failed to stop in time", fields...)
		default:
			log.Info(e.String(), fields...)
		}
	}
}
