package threshold

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// expireMargin pads the key TTL past the window so a quiet subject's set is
// reclaimed only after every entry in it is already expired.
const expireMargin = 2 * time.Hour

// Tracker is a per-subject sliding-window event log over a keyed store.
// One ordered set exists per (subject, category, window shape); entries are
// scored by event timestamp and pruned once older than the window.
//
// Counts are eventually consistent under concurrent writers: every call
// performs its own durable append, so no write is ever lost and counts are
// monotonically non-decreasing, at worst momentarily stale across readers.
// Store errors always propagate; silently losing escalation state is worse
// than a crashed caller retrying.
type Tracker interface {
	// TrackEvent appends (ts, member) to the subject's ordered set for the
	// category, prunes entries older than now-window, and refreshes the key
	// TTL. An empty member defaults to the event timestamp.
	TrackEvent(ctx context.Context, subject, category, member string, ts time.Time, window time.Duration) error

	// CountInWindow sums, across one ordered set per category, the entries
	// scored at or after now-window.
	CountInWindow(ctx context.Context, subject string, categories []string, window time.Duration, now time.Time) (int, error)

	// TrackAndCount performs add+prune+expire+cardinality as one batched
	// round trip and returns the post-insertion cardinality, avoiding a
	// second read on the single-category hot path.
	TrackAndCount(ctx context.Context, subject, category, member string, ts time.Time, window time.Duration) (int, error)
}

func windowKey(subject, category string, window time.Duration) string {
	return fmt.Sprintf("%s/%s/%ds", subject, category, int(window.Seconds()))
}

func defaultMember(member string, ts time.Time) string {
	if member != "" {
		return member
	}
	return strconv.FormatInt(ts.UnixNano(), 10)
}
