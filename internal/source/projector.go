package source

import (
	"fmt"

	"github.com/belphemur/calendar-source/internal/calendar"
	"github.com/belphemur/calendar-source/internal/constants"
	"github.com/belphemur/calendar-source/internal/sink"
)

// IsRelevant reports whether the item should be surfaced. With newOnly every item whose
// creation and last update lie within constants.NewItemThreshold of each other counts as new.
func IsRelevant(item calendar.ChangeItem, newOnly bool) bool {
	if !newOnly {
		return true
	}
	gap := item.Updated.Sub(item.Created)
	if gap < 0 {
		gap = -gap
	}
	return gap <= constants.NewItemThreshold
}

// DedupeID identifies one revision of an item
func DedupeID(item calendar.ChangeItem) string {
	return fmt.Sprintf("%s-%d", item.ID, item.Updated.UnixMilli())
}

// Project builds the emitted event for an item. Cancelled items are never projected.
func Project(resourceID string, item calendar.ChangeItem) (sink.Event, bool) {
	if item.Status == constants.StatusCancelled {
		return sink.Event{}, false
	}
	return sink.Event{
		ResourceID: resourceID,
		Payload:    item.Payload,
		Metadata: sink.Metadata{
			DedupeID:        DedupeID(item),
			Summary:         item.Summary,
			TimestampMillis: item.Updated.UnixMilli(),
		},
	}, true
}
