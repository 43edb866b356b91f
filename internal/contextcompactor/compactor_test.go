package contextcompactor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactNoOpUnderBudget(t *testing.T) {
	cfg := Config{MaxTokens: 100000, ReserveTokens: 1000, SafetyMargin: 1000}
	messages := []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hi"},
	}
	out := Compact(cfg, messages)
	assert.Equal(t, messages, out)
}

func TestCompactPinsSystemAndSummarizesMiddle(t *testing.T) {
	cfg := Config{
		MaxTokens: 50, ReserveTokens: 0, SafetyMargin: 0,
		RecentMessages: 2, MinRecentMessages: 1, SummaryMaxChars: 2000,
	}
	messages := []Message{
		{Role: "system", Content: strings.Repeat("s", 40)},
		{Role: "user", Content: strings.Repeat("a", 100)},
		{Role: "assistant", Content: strings.Repeat("b", 100)},
		{Role: "user", Content: strings.Repeat("c", 100)},
		{Role: "assistant", Content: strings.Repeat("d", 100)},
	}
	out := Compact(cfg, messages)

	require.True(t, len(out) < len(messages))
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "system", out[1].Role)
	assert.Contains(t, out[1].Content, "[earlier conversation summary]")
	assert.Equal(t, messages[len(messages)-1].Content, out[len(out)-1].Content)
}

func TestCompactNeverDropsBelowMinRecent(t *testing.T) {
	cfg := Config{
		MaxTokens: 1, ReserveTokens: 0, SafetyMargin: 0,
		RecentMessages: 1, MinRecentMessages: 5,
	}
	messages := []Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "c"},
	}
	out := Compact(cfg, messages)
	assert.Equal(t, messages, out, "fewer messages than MinRecentMessages means nothing gets dropped")
}

func TestTruncateToolResultKeepsHeadAndTail(t *testing.T) {
	lines := make([]string, 20)
	for i := range lines {
		lines[i] = "line"
	}
	content := strings.Join(lines, "\n")
	out := truncateToolResult(content, 10, 100000)
	assert.Contains(t, out, "omitted")
	assert.True(t, strings.HasPrefix(out, "line"))
	assert.True(t, strings.HasSuffix(out, "line"))
}

func TestTruncateToolResultByChars(t *testing.T) {
	content := strings.Repeat("x", 1000)
	out := truncateToolResult(content, 0, 100)
	assert.Less(t, len(out), 1000)
	assert.Contains(t, out, "chars omitted")
}

func TestToolResultTruncatedEvenWithoutOverallCompaction(t *testing.T) {
	cfg := Config{MaxTokens: 1000000, ToolMaxChars: 10}
	messages := []Message{
		{Role: "tool", Content: strings.Repeat("y", 1000), IsToolResult: true},
	}
	out := Compact(cfg, messages)
	assert.Less(t, len(out[0].Content), 1000)
}
