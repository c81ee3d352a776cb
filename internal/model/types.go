package model

import "time"

// User is a read-only projection of an identity owned by the platform's
// user service.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// PresenceStatus is a user's coarse availability classification.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

// Presence holds one user's availability, derived from activity events.
type Presence struct {
	UserID       string         `json:"userId"`
	Status       PresenceStatus `json:"status"`
	LastActiveAt time.Time      `json:"lastActiveAt,omitzero"`
	LastSeenAt   time.Time      `json:"lastSeenAt,omitzero"`
}

// Thread is a two-participant conversation container.
type Thread struct {
	ID             string         `json:"id"`
	ParticipantIDs []string       `json:"participantIds"`
	Participants   []User         `json:"participants,omitempty"`
	LastMessage    string         `json:"lastMessage"`
	LastMessageAt  time.Time      `json:"lastMessageAt,omitzero"`
	UnreadCounts   map[string]int `json:"unreadCounts"`
	IsRequest      bool           `json:"isRequest"`
	MutedBy        []string       `json:"mutedBy,omitempty"`
}

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Message is immutable once created except for its reaction list.
type Message struct {
	ID         string      `json:"id"`
	ThreadID   string      `json:"threadId"`
	SenderID   string      `json:"senderId"`
	Text       string      `json:"text"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Reactions  []Reaction  `json:"reactions,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`

	// Pending marks an optimistic entry whose durable write has not
	// confirmed yet. Pending messages carry a local ID.
	Pending bool `json:"pending,omitempty"`
}

// Reaction is one user's emoji on a message. At most one reaction exists
// per (message, user); changing the emoji replaces the slot.
type Reaction struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Emoji    string `json:"emoji"`
}

// TypingState is ephemeral and never persisted.
type TypingState struct {
	ThreadID  string    `json:"threadId"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SeenMark records that a user viewed a thread. Last write wins.
type SeenMark struct {
	ThreadID string    `json:"threadId"`
	UserID   string    `json:"userId"`
	Username string    `json:"username,omitempty"`
	SeenAt   time.Time `json:"seenAt"`
}

// Settings are the viewer's messaging preferences, round-tripped through
// the gateway rather than stored authoritatively on the client.
type Settings struct {
	ReadReceipts       bool `json:"readReceipts"`
	ShowSeenIndicators bool `json:"showSeenIndicators"`
}

// Notification is a platform notification delivered over the push channel.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}
