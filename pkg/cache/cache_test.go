package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryCacheTTL(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewInMemoryCache[string, int](time.Second, 0)
	defer c.Close()
	c.SetClock(func() time.Time { return now })

	c.Set("a", 1, 0)
	c.Set("b", 2, 5*time.Second)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok, "默认 TTL 已过期")
	_, ok = c.Get("b")
	assert.True(t, ok)

	assert.Equal(t, 1, c.Cleanup())
	assert.Equal(t, 1, c.Size())

	c.Delete("b")
	assert.Equal(t, 0, c.Size())
}
