package presence

import (
	"fmt"
	"time"
)

// FormatElapsed buckets the time between then and now as display text.
// Buckets, in order: under a minute "just now", under an hour "{n}m ago",
// under a day "{n}h ago", one day "yesterday", under a week "{n}d ago",
// anything older a calendar date. Exactly 60 seconds is "1m ago" and
// exactly 24 hours is "yesterday", never the smaller unit.
func FormatElapsed(now, then time.Time) string {
	d := now.Sub(then)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	switch {
	case days == 1:
		return "yesterday"
	case days < 7:
		return fmt.Sprintf("%dd ago", days)
	}
	return then.Format("Jan 2, 2006")
}
