package dedupe

import (
	"context"
	"time"
)

// Claim namespaces. Post-label dedup is per-(URI, label) while account-level
// dedup is per-(did, label/URI): a post can carry a label even if the
// authoring account already has the same label on its account record.
const (
	NSAccountLabel   = "account-label"
	NSAccountComment = "account-comment"
	NSPostLabel      = "post-label"
)

// DefaultRetention is how long a claim marker persists before the same
// action may be attempted again.
const DefaultRetention = 7 * 24 * time.Hour

// Store is an atomic "claim" primitive over a keyed store with TTL.
//
// Claim returns true iff this call created the marker (the caller should
// proceed with the action); false means the marker already existed and the
// caller must no-op. Implementations backed by remote stores are fail-open:
// if the store is unreachable, Claim returns true and logs a warning, since
// availability of moderation action beats strict deduplication.
type Store interface {
	Claim(ctx context.Context, namespace, key string) bool
	Release(ctx context.Context, namespace, key string) error
}

// AccountKey builds the claim key for an account-scoped action.
func AccountKey(did, val string) string {
	return did + "/" + val
}

// PostKey builds the claim key for a post-scoped action.
func PostKey(uri, val string) string {
	return uri + "/" + val
}
