package source

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/belphemur/calendar-source/internal/constants"
)

func TestNotificationFromHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("x-goog-channel-id", "chan-1")
	h.Set("X-Goog-Channel-Token", "secret")
	h.Set("X-Goog-Resource-Id", "res-a")
	h.Set("X-Goog-Resource-State", "exists")
	h.Set("X-Goog-Message-Number", "7")

	n := NotificationFromHeaders(h)
	assert.Equal(t, Notification{
		ChannelID:         "chan-1",
		ChannelToken:      "secret",
		ChannelResourceID: "res-a",
		ResourceState:     "exists",
		MessageNumber:     "7",
	}, n)
}

func TestNotificationValidator_Validate(t *testing.T) {
	known := map[string]KnownChannel{
		"chan-1": {ResourceID: "a", ChannelResourceID: "res-a"},
	}

	tests := []struct {
		name         string
		token        string
		notification Notification
		expected     Verdict
	}{
		{
			name:         "unknown channel",
			notification: Notification{ChannelID: "chan-9", ResourceState: constants.ResourceStateExists},
			expected:     VerdictUnknownChannel,
		},
		{
			name:         "missing channel id",
			notification: Notification{ResourceState: constants.ResourceStateExists},
			expected:     VerdictUnknownChannel,
		},
		{
			name:         "exists",
			notification: Notification{ChannelID: "chan-1", ResourceState: constants.ResourceStateExists},
			expected:     VerdictResourceExists,
		},
		{
			name:         "not exists",
			notification: Notification{ChannelID: "chan-1", ResourceState: constants.ResourceStateNotExists},
			expected:     VerdictResourceAbsent,
		},
		{
			name:         "sync handshake",
			notification: Notification{ChannelID: "chan-1", ResourceState: constants.ResourceStateSync},
			expected:     VerdictSyncHandshake,
		},
		{
			name:         "unrecognized state",
			notification: Notification{ChannelID: "chan-1", ResourceState: "updated"},
			expected:     VerdictUnrecognizedState,
		},
		{
			name:         "matching resource id",
			notification: Notification{ChannelID: "chan-1", ChannelResourceID: "res-a", ResourceState: constants.ResourceStateExists},
			expected:     VerdictResourceExists,
		},
		{
			name:         "stale resource id",
			notification: Notification{ChannelID: "chan-1", ChannelResourceID: "res-old", ResourceState: constants.ResourceStateExists},
			expected:     VerdictUnknownChannel,
		},
		{
			name:         "matching token",
			token:        "secret",
			notification: Notification{ChannelID: "chan-1", ChannelToken: "secret", ResourceState: constants.ResourceStateExists},
			expected:     VerdictResourceExists,
		},
		{
			name:         "wrong token",
			token:        "secret",
			notification: Notification{ChannelID: "chan-1", ChannelToken: "guess", ResourceState: constants.ResourceStateExists},
			expected:     VerdictUnknownChannel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewNotificationValidator(tt.token)
			verdict, channel := v.Validate(tt.notification, known)
			assert.Equal(t, tt.expected, verdict)
			assert.Equal(t, tt.expected == VerdictResourceExists, verdict.ShouldFetch())
			if verdict != VerdictUnknownChannel {
				assert.Equal(t, "a", channel.ResourceID)
			}
		})
	}
}

func TestVerdict_String(t *testing.T) {
	assert.Equal(t, "unknown-channel", VerdictUnknownChannel.String())
	assert.Equal(t, "resource-exists", VerdictResourceExists.String())
	assert.Equal(t, "invalid", Verdict(42).String())
}
