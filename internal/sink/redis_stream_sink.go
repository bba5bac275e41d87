package sink

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/belphemur/calendar-source/internal/logging"
)

// defaultStreamMaxLen bounds the stream so an absent consumer cannot grow it forever
const defaultStreamMaxLen = 100_000

// RedisStreamSink appends events to a Redis stream
type RedisStreamSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
	logger zerolog.Logger
}

// NewRedisStreamSink creates a sink appending to stream
func NewRedisStreamSink(client redis.Cmdable, stream string) *RedisStreamSink {
	return &RedisStreamSink{
		client: client,
		stream: stream,
		maxLen: defaultStreamMaxLen,
		logger: logging.GetLogger("sink-redis").With().Str("stream", stream).Logger(),
	}
}

// Emit appends the event with XADD
func (s *RedisStreamSink) Emit(ctx context.Context, event Event) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"resource_id": event.ResourceID,
			"dedupe_id":   event.Metadata.DedupeID,
			"summary":     event.Metadata.Summary,
			"ts":          strconv.FormatInt(event.Metadata.TimestampMillis, 10),
			"payload":     string(event.Payload),
		},
	}).Result()
	if err != nil {
		s.logger.Error().Err(err).Str("dedupe_id", event.Metadata.DedupeID).Msg("Failed to append event to redis stream")
		return
	}
	s.logger.Debug().Str("entry_id", id).Str("dedupe_id", event.Metadata.DedupeID).Msg("Appended event to redis stream")
}
