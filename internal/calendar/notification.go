package calendar

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gcalendar "google.golang.org/api/calendar/v3"

	"github.com/belphemur/calendar-source/internal/constants"
)

// Watch creates a web_hook notification channel for the calendar
func (c *GoogleClient) Watch(ctx context.Context, resourceID, channelID, callbackAddress string) (*WatchResult, error) {
	logger := c.logger.With().
		Str("resource_id", resourceID).
		Str("channel_id", channelID).
		Logger()

	channel := &gcalendar.Channel{
		Id:      channelID,
		Type:    "web_hook",
		Address: callbackAddress,
		Token:   c.opts.ChannelToken,
	}
	if ttl := int64(c.opts.ChannelTTL / time.Second); ttl > 0 {
		channel.Params = map[string]string{"ttl": strconv.FormatInt(ttl, 10)}
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	logger.Debug().Str("webhook_address", callbackAddress).Msg("Sending watch request to Google Calendar API")
	created, err := c.srv.Events.Watch(resourceID, channel).Context(ctx).Do()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to watch calendar via Google API")
		return nil, fmt.Errorf("failed to watch calendar %s: %w", resourceID, err)
	}

	expiration := created.Expiration
	if expiration <= 0 {
		expiration = c.now().Add(c.opts.ChannelTTL).UnixMilli()
	}
	logger.Info().
		Str("channel_resource_id", created.ResourceId).
		Int64("expires_ms", expiration).
		Msg("Created watch channel with Google")

	return &WatchResult{
		ChannelResourceID: created.ResourceId,
		ExpirationMillis:  expiration,
	}, nil
}

// Stop stops a notification channel. API rejections are reported as a status code with a nil
// error; only transport failures return an error.
func (c *GoogleClient) Stop(ctx context.Context, channelID, channelResourceID string) (int, error) {
	logger := c.logger.With().
		Str("channel_id", channelID).
		Str("channel_resource_id", channelResourceID).
		Logger()

	if err := c.wait(ctx); err != nil {
		return 0, err
	}

	logger.Debug().Msg("Sending stop channel request to Google API")
	err := c.srv.Channels.Stop(&gcalendar.Channel{
		Id:         channelID,
		ResourceId: channelResourceID,
	}).Context(ctx).Do()
	if err == nil {
		logger.Info().Msg("Stopped notification channel via Google API")
		return constants.StatusStopped, nil
	}

	if code := statusCode(err); code != 0 {
		logger.Warn().Err(err).Int("status_code", code).Msg("Google API refused to stop notification channel")
		return code, nil
	}

	logger.Error().Err(err).Msg("Failed to stop notification channel via Google API")
	return 0, fmt.Errorf("failed to stop notification channel %s: %w", channelID, err)
}
