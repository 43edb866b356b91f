package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeenAtFirstTimeIsNew(t *testing.T) {
	c := New(Options{TTL: time.Minute})
	assert.False(t, c.Seen("a"))
	assert.True(t, c.Seen("a"))
}

func TestSeenAtExpiresAfterTTL(t *testing.T) {
	c := New(Options{TTL: time.Minute})
	base := time.Unix(0, 0)
	assert.False(t, c.SeenAt("a", base))
	assert.False(t, c.SeenAt("a", base.Add(2*time.Minute)), "entry should have expired")
}

func TestMaxSizeEvictsOldest(t *testing.T) {
	c := New(Options{MaxSize: 2})
	base := time.Unix(0, 0)
	c.SeenAt("a", base)
	c.SeenAt("b", base.Add(time.Second))
	c.SeenAt("c", base.Add(2*time.Second))

	assert.LessOrEqual(t, c.Size(), 2)
	assert.False(t, c.SeenAt("a", base.Add(3*time.Second)), "oldest entry should have been evicted")
}

func TestClearResetsCache(t *testing.T) {
	c := New(Options{})
	c.Seen("a")
	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestEmptyKeyNeverCountsAsSeen(t *testing.T) {
	c := New(Options{})
	assert.False(t, c.Seen(""))
	assert.False(t, c.Seen(""))
}
