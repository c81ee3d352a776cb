package model

import (
	"encoding/json"
	"time"
)

// Push event names, server to client. Each is scoped to a thread or user
// room the client has joined.
const (
	EventNotification      = "notification"
	EventNotificationsRead = "notifications:read"
	EventNewMessage        = "new_message"
	EventMessageSeen       = "message:seen"
	EventMessageReaction   = "message:reaction"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventPresenceUpdate    = "presence:update"
)

// Client command names, client to server.
const (
	CommandJoinThread  = "join:thread"
	CommandLeaveThread = "leave:thread"
	CommandTypingStart = "typing:start"
	CommandTypingStop  = "typing:stop"
	CommandActivity    = "activity"
)

// ReactionAction is the verb carried by a message:reaction event.
type ReactionAction string

const (
	ReactionAdd    ReactionAction = "add"
	ReactionRemove ReactionAction = "remove"
)

// PushEnvelope is the wire framing for every push event.
type PushEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// CommandEnvelope is the wire framing for every client command.
type CommandEnvelope struct {
	Action   string `json:"action"`
	ThreadID string `json:"threadId,omitempty"`
}

// NewMessageEvent announces a message appended to a thread.
type NewMessageEvent struct {
	ThreadID string  `json:"threadId"`
	Message  Message `json:"message"`
}

// MessageSeenEvent announces a participant's seen mark on a thread.
type MessageSeenEvent struct {
	ThreadID string    `json:"threadId"`
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	SeenAt   time.Time `json:"seenAt"`
}

// MessageReactionEvent announces a reaction added to or removed from a
// message.
type MessageReactionEvent struct {
	MessageID string         `json:"messageId"`
	Reaction  Reaction       `json:"reaction"`
	Action    ReactionAction `json:"action"`
}

// TypingEvent announces a typing start or stop for a thread participant.
type TypingEvent struct {
	UserID   string `json:"userId"`
	ThreadID string `json:"threadId"`
	Typing   bool   `json:"-"`
}

// PresenceUpdateEvent announces a peer's availability change.
type PresenceUpdateEvent struct {
	UserID    string         `json:"userId"`
	Status    PresenceStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
}

// NotificationsReadEvent announces notifications marked read, either all
// of them or a specific set.
type NotificationsReadEvent struct {
	All             bool     `json:"all,omitempty"`
	NotificationIDs []string `json:"notificationIds,omitempty"`
	Count           int      `json:"count,omitempty"`
}

// DecodePushEvent unmarshals an envelope payload into its typed event.
// Unknown event names return (nil, nil) so callers can skip them without
// treating new server events as errors.
func DecodePushEvent(env PushEnvelope) (any, error) {
	switch env.Event {
	case EventNewMessage:
		var evt NewMessageEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return nil, err
		}
		return &evt, nil
	case EventMessageSeen:
		var evt MessageSeenEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return nil, err
		}
		return &evt, nil
	case EventMessageReaction:
		var evt MessageReactionEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return nil, err
		}
		return &evt, nil
	case EventTypingStart, EventTypingStop:
		var evt TypingEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return nil, err
		}
		evt.Typing = env.Event == EventTypingStart
		return &evt, nil
	case EventPresenceUpdate:
		var evt PresenceUpdateEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return nil, err
		}
		return &evt, nil
	case EventNotification:
		var evt Notification
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return nil, err
		}
		return &evt, nil
	case EventNotificationsRead:
		var evt NotificationsReadEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return nil, err
		}
		return &evt, nil
	default:
		return nil, nil
	}
}
