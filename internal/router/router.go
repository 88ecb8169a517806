// Package router maps domain events to the topics they must reach and to the
// event names that live clients listen for.
package router

import "github.com/tinywideclouds/go-realtime-service/pkg/realtime"

var eventNames = map[realtime.EventKind]string{
	realtime.KindMessageCreated:      "newMessage",
	realtime.KindTaskUpdated:         "taskUpdate",
	realtime.KindCommentAdded:        "newComment",
	realtime.KindTypingChanged:       "userTyping",
	realtime.KindTaskNotification:    "taskNotification",
	realtime.KindMessageNotification: "messageNotification",
	realtime.KindGeneralNotification: "generalNotification",
	realtime.KindBroadcast:           "broadcastNotification",
}

// Router is stateless; the zero value is ready to use.
type Router struct{}

// New returns a Router.
func New() Router { return Router{} }

// TopicsFor returns the topics an event must reach, in delivery order.
// Unrecognized kinds and events missing the id their kind routes on yield
// an empty slice.
func (Router) TopicsFor(event *realtime.DomainEvent) []realtime.Topic {
	if event == nil {
		return nil
	}
	switch event.Kind {
	case realtime.KindMessageCreated,
		realtime.KindTaskNotification,
		realtime.KindMessageNotification,
		realtime.KindGeneralNotification:
		if event.ReceiverID == "" {
			return nil
		}
		return []realtime.Topic{realtime.UserTopic(event.ReceiverID)}

	case realtime.KindTypingChanged:
		// Receiver only; the task room would be too noisy.
		if event.ReceiverID == "" {
			return nil
		}
		return []realtime.Topic{realtime.UserTopic(event.ReceiverID)}

	case realtime.KindTaskUpdated, realtime.KindCommentAdded:
		if event.TaskID == "" {
			return nil
		}
		return []realtime.Topic{realtime.TaskTopic(event.TaskID)}

	case realtime.KindBroadcast:
		return []realtime.Topic{realtime.TopicBroadcast}
	}
	return nil
}

// EventName returns the client-facing event name for a kind.
func (Router) EventName(kind realtime.EventKind) (string, bool) {
	name, ok := eventNames[kind]
	return name, ok
}
