package bus

import "time"

// Event kind namespaces. Subscribers filter by prefix, so "thread." matches
// every thread store event.
const (
	// Decoded push-channel events, published by the channel router with
	// the decoded model event as payload.
	NSPush = "push."

	KindPushMessage       = "push.new_message"
	KindPushSeen          = "push.message_seen"
	KindPushReaction      = "push.message_reaction"
	KindPushTyping        = "push.typing"
	KindPushPresence      = "push.presence"
	KindPushNotification  = "push.notification"
	KindPushNotifsRead    = "push.notifications_read"

	// Channel router lifecycle.
	KindChannelConnected    = "channel.connected"
	KindChannelReconnecting = "channel.reconnecting"
	KindChannelDisconnected = "channel.disconnected"

	// Thread store changes, consumed by the hosting UI layer.
	KindThreadUpdated   = "thread.updated"
	KindMessageAppended = "thread.message_appended"
	KindSnapshotLoaded  = "thread.snapshot_loaded"
	KindSendConfirmed   = "thread.send_confirmed"
	KindSendFailed      = "thread.send_failed"

	// Presence, typing, notifications.
	KindPresenceChanged   = "presence.changed"
	KindTypingChanged     = "typing.changed"
	KindNotificationAdded = "notify.added"
	KindNotificationsRead = "notify.read"
)

// Event is a single item published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
