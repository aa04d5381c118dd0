package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/papercomputeco/engram/pkg/contextblock"
)

// L1Cache caches built context blocks per user. Writes to memory invalidate
// the user's block; the next Get rebuilds lazily, so a burst of stored notes
// costs one rebuild, not one per note.
type L1Cache struct {
	builder *contextblock.Builder

	mu     sync.Mutex
	blocks map[string]cachedBlock
}

type cachedBlock struct {
	block   string
	message string
	builtAt time.Time
}

// NewL1Cache creates a cache over the given builder.
func NewL1Cache(builder *contextblock.Builder) *L1Cache {
	return &L1Cache{
		builder: builder,
		blocks:  map[string]cachedBlock{},
	}
}

// Get returns the context block for a user, rebuilding when the cached copy
// is missing, stale, or was built for a different current message.
func (c *L1Cache) Get(ctx context.Context, userID, currentMessage string) string {
	c.mu.Lock()
	cached, ok := c.blocks[userID]
	c.mu.Unlock()

	if ok && cached.message == currentMessage && !contextblock.Stale(cached.builtAt) {
		return cached.block
	}

	block := c.builder.Build(ctx, userID, currentMessage)

	c.mu.Lock()
	c.blocks[userID] = cachedBlock{
		block:   block,
		message: currentMessage,
		builtAt: time.Now(),
	}
	c.mu.Unlock()

	return block
}

// Invalidate drops a user's cached block.
func (c *L1Cache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.blocks, userID)
	c.mu.Unlock()
}

// InvalidateAll drops every cached block.
func (c *L1Cache) InvalidateAll() {
	c.mu.Lock()
	c.blocks = map[string]cachedBlock{}
	c.mu.Unlock()
}
