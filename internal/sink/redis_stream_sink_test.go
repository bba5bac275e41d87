package sink

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStreamSink_Appends(t *testing.T) {
	url := os.Getenv("CALSRC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CALSRC_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	stream := "calendar-source-test:" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), stream) })

	NewRedisStreamSink(client, stream).Emit(ctx, event("e1-100"))

	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1-100", entries[0].Values["dedupe_id"])
	assert.Equal(t, "primary", entries[0].Values["resource_id"])
	assert.Equal(t, "1704103200000", entries[0].Values["ts"])
}
