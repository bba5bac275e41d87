package sink

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/belphemur/calendar-source/internal/logging"
)

// LogSink writes emitted events to the structured log
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink
func NewLogSink() *LogSink {
	return &LogSink{logger: logging.GetLogger("sink-log")}
}

// Emit logs the event metadata, and the payload at debug level
func (s *LogSink) Emit(_ context.Context, event Event) {
	s.logger.Info().
		Str("resource_id", event.ResourceID).
		Str("dedupe_id", event.Metadata.DedupeID).
		Str("summary", event.Metadata.Summary).
		Int64("ts", event.Metadata.TimestampMillis).
		Msg("Calendar event emitted")

	if s.logger.GetLevel() <= zerolog.DebugLevel && len(event.Payload) > 0 {
		s.logger.Debug().
			Str("dedupe_id", event.Metadata.DedupeID).
			RawJSON("payload", event.Payload).
			Msg("Emitted payload")
	}
}
