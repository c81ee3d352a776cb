package notify

import (
	"sync"
	"time"

	"github.com/plumahq/messaging/internal/bus"
	"github.com/plumahq/messaging/internal/model"
)

// Center holds the session's notification list fed by push events.
type Center struct {
	mu   sync.RWMutex
	list []model.Notification
	bus  *bus.Bus
	now  func() time.Time
}

// NewCenter creates an empty center. b may be nil.
func NewCenter(b *bus.Bus) *Center {
	return &Center{bus: b, now: time.Now}
}

// Add appends a notification, idempotent on ID.
func (c *Center) Add(n model.Notification) {
	c.mu.Lock()
	for _, existing := range c.list {
		if existing.ID == n.ID {
			c.mu.Unlock()
			return
		}
	}
	c.list = append(c.list, n)
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(bus.Event{Kind: bus.KindNotificationAdded, Timestamp: c.now(), Payload: n})
	}
}

// MarkRead applies a notifications:read event, either all of them or a
// specific id set. Idempotent.
func (c *Center) MarkRead(evt model.NotificationsReadEvent) {
	c.mu.Lock()
	if evt.All {
		for i := range c.list {
			c.list[i].Read = true
		}
	} else {
		ids := make(map[string]struct{}, len(evt.NotificationIDs))
		for _, id := range evt.NotificationIDs {
			ids[id] = struct{}{}
		}
		for i := range c.list {
			if _, ok := ids[c.list[i].ID]; ok {
				c.list[i].Read = true
			}
		}
	}
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(bus.Event{Kind: bus.KindNotificationsRead, Timestamp: c.now(), Payload: evt})
	}
}

// List returns a copy of all notifications, oldest first.
func (c *Center) List() []model.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Notification, len(c.list))
	copy(out, c.list)
	return out
}

// UnreadCount returns how many notifications are unread.
func (c *Center) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, item := range c.list {
		if !item.Read {
			n++
		}
	}
	return n
}
