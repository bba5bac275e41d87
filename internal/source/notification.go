package source

import (
	"crypto/subtle"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/belphemur/calendar-source/internal/constants"
	"github.com/belphemur/calendar-source/internal/logging"
)

// Verdict classifies an inbound push notification
type Verdict int

const (
	// VerdictUnknownChannel means the channel is not one we currently hold
	VerdictUnknownChannel Verdict = iota
	// VerdictSyncHandshake is the confirmation sent right after a channel is created
	VerdictSyncHandshake
	// VerdictResourceAbsent means the watched resource no longer exists
	VerdictResourceAbsent
	// VerdictResourceExists means the resource changed and must be fetched
	VerdictResourceExists
	// VerdictUnrecognizedState covers any other resource state
	VerdictUnrecognizedState

	verdictCount
)

func (v Verdict) String() string {
	switch v {
	case VerdictUnknownChannel:
		return "unknown-channel"
	case VerdictSyncHandshake:
		return "resource-sync-handshake"
	case VerdictResourceAbsent:
		return "resource-absent"
	case VerdictResourceExists:
		return "resource-exists"
	case VerdictUnrecognizedState:
		return "unrecognized-state"
	default:
		return "invalid"
	}
}

// ShouldFetch reports whether the verdict requires a fetch cycle
func (v Verdict) ShouldFetch() bool {
	return v == VerdictResourceExists
}

// Notification is the metadata carried by a push callback
type Notification struct {
	ChannelID         string
	ChannelToken      string
	ChannelResourceID string
	ResourceState     string
	MessageNumber     string
}

// NotificationFromHeaders extracts the push metadata from callback headers
func NotificationFromHeaders(h http.Header) Notification {
	return Notification{
		ChannelID:         h.Get(constants.HeaderChannelID),
		ChannelToken:      h.Get(constants.HeaderChannelToken),
		ChannelResourceID: h.Get(constants.HeaderResourceID),
		ResourceState:     h.Get(constants.HeaderResourceState),
		MessageNumber:     h.Get(constants.HeaderMessageNumber),
	}
}

// KnownChannel is a channel currently persisted for a watched resource
type KnownChannel struct {
	ResourceID        string
	ChannelResourceID string
}

// NotificationValidator decides whether a notification triggers a fetch
type NotificationValidator struct {
	channelToken string
	logger       zerolog.Logger
}

// NewNotificationValidator creates a validator. A non-empty channelToken must be echoed
// back by every notification.
func NewNotificationValidator(channelToken string) *NotificationValidator {
	return &NotificationValidator{
		channelToken: channelToken,
		logger:       logging.GetLogger("notification-validator"),
	}
}

// Validate classifies n against the currently known channels, keyed by channel id.
// The returned KnownChannel is only meaningful when the channel was recognized.
func (v *NotificationValidator) Validate(n Notification, known map[string]KnownChannel) (Verdict, KnownChannel) {
	logger := v.logger.With().
		Str("channel_id", n.ChannelID).
		Str("resource_state", n.ResourceState).
		Str("message_number", n.MessageNumber).
		Logger()

	channel, ok := known[n.ChannelID]
	if !ok || n.ChannelID == "" {
		logger.Warn().Msg("Notification for unknown channel ignored")
		return VerdictUnknownChannel, KnownChannel{}
	}
	if v.channelToken != "" && subtle.ConstantTimeCompare([]byte(v.channelToken), []byte(n.ChannelToken)) != 1 {
		logger.Warn().Str("resource_id", channel.ResourceID).Msg("Notification channel token mismatch")
		return VerdictUnknownChannel, KnownChannel{}
	}
	if n.ChannelResourceID != "" && n.ChannelResourceID != channel.ChannelResourceID {
		logger.Warn().
			Str("resource_id", channel.ResourceID).
			Str("received_channel_resource_id", n.ChannelResourceID).
			Str("expected_channel_resource_id", channel.ChannelResourceID).
			Msg("Notification resource id does not match the persisted channel")
		return VerdictUnknownChannel, KnownChannel{}
	}

	logger = logger.With().Str("resource_id", channel.ResourceID).Logger()
	switch n.ResourceState {
	case constants.ResourceStateExists:
		logger.Debug().Msg("Resource change notification")
		return VerdictResourceExists, channel
	case constants.ResourceStateNotExists:
		logger.Info().Msg("Resource reported as absent")
		return VerdictResourceAbsent, channel
	case constants.ResourceStateSync:
		logger.Debug().Msg("Channel sync handshake received")
		return VerdictSyncHandshake, channel
	default:
		logger.Warn().Msg("Unrecognized resource state")
		return VerdictUnrecognizedState, channel
	}
}
