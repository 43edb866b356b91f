package confirm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutThenTake(t *testing.T) {
	s := NewStore(time.Minute)
	s.Put("id-1", "delete it?", Action{Tool: "delete", Args: map[string]any{"path": "a"}})

	p, ok := s.Take("id-1")
	require.True(t, ok)
	assert.Equal(t, "delete it?", p.Question)
	assert.Equal(t, "delete", p.Action.Tool)

	_, ok = s.Take("id-1")
	assert.False(t, ok, "Take removes the entry")
}

func TestTakeMissingIDFails(t *testing.T) {
	s := NewStore(time.Minute)
	_, ok := s.Take("nope")
	assert.False(t, ok)
}

func TestExpiredEntryNotReturned(t *testing.T) {
	s := NewStore(time.Millisecond)
	s.Put("id-1", "q", Action{Tool: "delete"})
	time.Sleep(5 * time.Millisecond)
	_, ok := s.Take("id-1")
	assert.False(t, ok)
}

func TestGCRunsOnPut(t *testing.T) {
	s := NewStore(time.Millisecond)
	s.Put("old", "q", Action{Tool: "delete"})
	time.Sleep(5 * time.Millisecond)
	s.Put("new", "q2", Action{Tool: "write"})
	assert.Equal(t, 1, s.Len())
}
