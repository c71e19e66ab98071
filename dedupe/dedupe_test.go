package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemStoreClaimBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemStore()

	key := AccountKey("did:plc:abc123", "repeat-spammer")
	assert.True(s.Claim(ctx, NSAccountLabel, key))
	assert.False(s.Claim(ctx, NSAccountLabel, key))

	// distinct namespace, same key
	assert.True(s.Claim(ctx, NSAccountComment, key))

	// release permits re-claiming
	assert.NoError(s.Release(ctx, NSAccountLabel, key))
	assert.True(s.Claim(ctx, NSAccountLabel, key))
}

func TestMemStoreClaimExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemStore()
	s.Retention = 10 * time.Millisecond

	assert.True(s.Claim(ctx, NSPostLabel, PostKey("at://did:plc:abc/app.bsky.feed.post/1", "spam")))
	assert.False(s.Claim(ctx, NSPostLabel, PostKey("at://did:plc:abc/app.bsky.feed.post/1", "spam")))
	time.Sleep(20 * time.Millisecond)
	assert.True(s.Claim(ctx, NSPostLabel, PostKey("at://did:plc:abc/app.bsky.feed.post/1", "spam")))
}

func TestMemStoreConcurrentClaim(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemStore()

	var winners int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Claim(ctx, NSAccountLabel, AccountKey("did:plc:race", "spam")) {
				atomic.AddInt64(&winners, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(int64(1), winners)
}
