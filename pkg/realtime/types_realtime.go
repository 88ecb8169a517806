// Package realtime contains the public domain models and interfaces for the
// realtime service. It defines the contract between the CRUD layer that
// produces domain events and the service that distributes them.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventKind identifies what happened in the CRUD layer.
type EventKind string

const (
	KindMessageCreated      EventKind = "message-created"
	KindTaskUpdated         EventKind = "task-updated"
	KindCommentAdded        EventKind = "comment-added"
	KindTypingChanged       EventKind = "typing-changed"
	KindTaskNotification    EventKind = "task-notification"
	KindMessageNotification EventKind = "message-notification"
	KindGeneralNotification EventKind = "general-notification"
	KindBroadcast           EventKind = "broadcast"
)

// Topic is a broadcast target that connections subscribe to.
type Topic string

const (
	userTopicPrefix = "user:"
	taskTopicPrefix = "task:"

	// TopicBroadcast is joined by every registered connection.
	TopicBroadcast Topic = "broadcast"
)

// UserTopic returns the personal inbox topic for a user.
func UserTopic(userID string) Topic { return Topic(userTopicPrefix + userID) }

// TaskTopic returns the collaboration room topic for a task.
func TaskTopic(taskID string) Topic { return Topic(taskTopicPrefix + taskID) }

// UserID returns the user id of a personal topic.
func (t Topic) UserID() (string, bool) {
	id, ok := strings.CutPrefix(string(t), userTopicPrefix)
	return id, ok && id != ""
}

// TaskID returns the task id of a collaboration room topic.
func (t Topic) TaskID() (string, bool) {
	id, ok := strings.CutPrefix(string(t), taskTopicPrefix)
	return id, ok && id != ""
}

func (t Topic) String() string { return string(t) }

// DomainEvent describes something that happened and has already been
// persisted. It is consumed once by the dispatcher and never mutated.
type DomainEvent struct {
	ID      string    `json:"id"`
	Kind    EventKind `json:"kind"`
	ActorID string    `json:"actorId,omitempty"`

	// ReceiverID targets user-scoped kinds (messages, typing, notifications).
	ReceiverID string `json:"receiverId,omitempty"`
	// TaskID targets task-scoped kinds (updates, comments).
	TaskID string `json:"taskId,omitempty"`
	// Recipients lists additional users that should be notified by push,
	// e.g. the assignees of a task.
	Recipients []string `json:"recipients,omitempty"`

	Title       string          `json:"title,omitempty"`
	Text        string          `json:"text,omitempty"`
	ContentType string          `json:"contentType,omitempty"` // e.g. "text", "image", "voice"
	Payload     json.RawMessage `json:"payload,omitempty"`

	// OriginConnectionID is excluded from live emit. Set for client-originated
	// events such as typing indicators.
	OriginConnectionID string    `json:"originConnectionId,omitempty"`
	OccurredAt         time.Time `json:"occurredAt"`
}

// DeviceToken represents a push notification token for a user's device.
type DeviceToken struct {
	Token    string `json:"token" firestore:"token"`
	Platform string `json:"platform" firestore:"platform"` // e.g., "ios", "android"
}

// ConnectionInfo is a point-in-time view of a live connection.
type ConnectionInfo struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
	Topics    []Topic   `json:"topics"`
}

// Validate checks that the event carries the ids its kind routes on.
func (e *DomainEvent) Validate() error {
	switch e.Kind {
	case KindMessageCreated, KindTypingChanged, KindTaskNotification, KindMessageNotification, KindGeneralNotification:
		if e.ReceiverID == "" {
			return fmt.Errorf("event kind %q requires receiverId", e.Kind)
		}
	case KindTaskUpdated, KindCommentAdded:
		if e.TaskID == "" {
			return fmt.Errorf("event kind %q requires taskId", e.Kind)
		}
	case KindBroadcast:
	case "":
		return errors.New("event kind is required")
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}
