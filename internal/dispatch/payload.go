package dispatch

import (
	"errors"

	"github.com/tinywideclouds/go-realtime-service/internal/platform/push"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

const clickAction = "FLUTTER_NOTIFICATION_CLICK"

var defaultTitles = map[realtime.EventKind]string{
	realtime.KindMessageCreated:      "New message",
	realtime.KindTaskUpdated:         "Task updated",
	realtime.KindCommentAdded:        "New comment",
	realtime.KindTaskNotification:    "Task notification",
	realtime.KindMessageNotification: "New message",
	realtime.KindGeneralNotification: "Notification",
}

// livePayload is what connected clients receive as the event data: the
// producer's payload when present, otherwise the event itself.
func livePayload(event *realtime.DomainEvent) any {
	if len(event.Payload) > 0 {
		return event.Payload
	}
	return event
}

// content shapes the push notification for an event.
func (d *Dispatcher) content(event *realtime.DomainEvent) push.Content {
	title := event.Title
	if title == "" {
		title = defaultTitles[event.Kind]
	}

	data := map[string]string{
		"type":         string(event.Kind),
		"click_action": clickAction,
	}
	if event.ID != "" {
		data["eventId"] = event.ID
	}
	if event.ActorID != "" {
		data["senderId"] = event.ActorID
	}
	if event.TaskID != "" {
		data["taskId"] = event.TaskID
	}
	if event.Kind == realtime.KindMessageCreated || event.Kind == realtime.KindMessageNotification {
		data["chatId"] = event.ActorID
		data["messageType"] = event.ContentType
		if data["messageType"] == "" {
			data["messageType"] = "text"
		}
	}

	return push.Content{
		Title: title,
		Body:  d.placeholders.Body(event.ContentType, event.Text),
		Data:  data,
	}
}

func isGone(err error) bool {
	return errors.Is(err, realtime.ErrConnectionGone)
}
