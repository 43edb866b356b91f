package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLongestCommonPrefixLen(t *testing.T) {
	assert.Equal(t, 2, LongestCommonPrefixLen([]string{"a", "b", "c"}, []string{"a", "b", "d"}))
	assert.Equal(t, 0, LongestCommonPrefixLen([]string{"a"}, []string{"z"}))
	assert.Equal(t, 3, LongestCommonPrefixLen([]string{"a", "b", "c"}, []string{"a", "b", "c", "d"}))
	assert.Equal(t, 0, LongestCommonPrefixLen(nil, []string{"a"}))
}

func TestShouldResetChatWhenNoActiveChat(t *testing.T) {
	s := New()
	assert.True(t, s.ShouldResetChat([]string{"hi"}))
}

func TestShouldResetChatContinuationDoesNotReset(t *testing.T) {
	s := New()
	s.SetActiveChat("chat-1")
	s.UpdateMessages([]string{"hello", "world"})
	assert.False(t, s.ShouldResetChat([]string{"hello", "world", "more"}))
}

func TestShouldResetChatDivergentHistoryResets(t *testing.T) {
	s := New()
	s.SetActiveChat("chat-1")
	s.UpdateMessages([]string{"hello", "world"})
	assert.True(t, s.ShouldResetChat([]string{"hello", "edited"}))
}

func TestSnapshotReflectsUpdates(t *testing.T) {
	s := New()
	s.SetActiveChat("chat-9")
	s.UpdateMessages([]string{"a", "b"})
	s.RecordRawDispatch("sig-1", "user-1")

	snap := s.Snapshot()
	assert.Equal(t, "chat-9", snap.ActiveChatID)
	assert.Equal(t, []string{"a", "b"}, snap.LastMessages)
	assert.Equal(t, "sig-1", snap.LastRawDispatchSig)
}

func TestIsRepeatRawDispatch(t *testing.T) {
	s := New()
	s.RecordRawDispatch("sig-1", "user-1")
	assert.True(t, s.IsRepeatRawDispatch("sig-1", "user-1"))
	assert.False(t, s.IsRepeatRawDispatch("sig-1", "user-2"))
	assert.False(t, s.IsRepeatRawDispatch("", ""))
}
