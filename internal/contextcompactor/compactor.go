// Package contextcompactor trims a message history down to fit a token
// budget, per spec.md §4.K: pin the leading system messages, keep the most
// recent N turns, summarize whatever falls between, and shrink oversized
// tool-result payloads regardless of whether compaction as a whole triggers.
package contextcompactor

import (
	"fmt"
	"strings"
)

// Message is one history entry as ContextCompactor sees it — independent of
// the wire-level chat-completions message shape.
type Message struct {
	Role         string
	Content      string
	IsToolResult bool
}

// Config mirrors spec.md §3's ContextConfig record.
type Config struct {
	MaxTokens         int
	ReserveTokens     int
	SafetyMargin      int
	RecentMessages    int
	MinRecentMessages int
	SummaryMaxChars   int
	ToolMaxLines      int
	ToolMaxChars      int
}

// codeDensityThreshold is the fraction of brace/paren/bracket/semicolon characters
// above which a string is treated as code rather than prose for token
// estimation purposes.
const codeDensityThreshold = 0.01

// EstimateTokens is a cheap, deterministic token-count approximation used
// only for the compaction budget decision — it never needs to match the
// upstream model's real tokenizer exactly. Prose is estimated at ~4 bytes
// per token; code-like text (dense in braces/parens/brackets/semicolons,
// which tokenize more finely) at ~3 bytes per token.
func EstimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	divisor := 4
	if isCodeLike(s) {
		divisor = 3
	}
	return (len(s) + divisor - 1) / divisor
}

// isCodeLike reports whether s's brace/paren/bracket/semicolon density suggests code
// rather than prose.
func isCodeLike(s string) bool {
	structural := 0
	for _, r := range s {
		switch r {
		case '{', '}', '(', ')', '[', ']', ';':
			structural++
		}
	}
	return float64(structural)/float64(len(s)) >= codeDensityThreshold
}

// Compact truncates oversized tool-result payloads unconditionally, then —
// only if the resulting history still exceeds the configured budget — pins
// the leading system messages, keeps the most recent
// max(RecentMessages, MinRecentMessages) messages, and folds everything
// between into one synthetic summary message.
func Compact(cfg Config, messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		if m.IsToolResult {
			m.Content = truncateToolResult(m.Content, cfg.ToolMaxLines, cfg.ToolMaxChars)
		}
		out[i] = m
	}

	budget := cfg.MaxTokens - cfg.ReserveTokens - cfg.SafetyMargin
	if budget <= 0 || estimateTotal(out) <= budget {
		return out
	}

	leadingSystemEnd := 0
	for leadingSystemEnd < len(out) && out[leadingSystemEnd].Role == "system" {
		leadingSystemEnd++
	}
	pinned := out[:leadingSystemEnd]
	rest := out[leadingSystemEnd:]

	keep := cfg.RecentMessages
	if keep < cfg.MinRecentMessages {
		keep = cfg.MinRecentMessages
	}
	if keep >= len(rest) {
		return out
	}

	dropped := rest[:len(rest)-keep]
	recent := rest[len(rest)-keep:]
	summary := summarizeDropped(dropped, cfg.SummaryMaxChars)

	result := make([]Message, 0, len(pinned)+1+len(recent))
	result = append(result, pinned...)
	result = append(result, summary)
	result = append(result, recent...)
	return result
}

func estimateTotal(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}

// truncateToolResult shrinks an oversized tool-result payload by keeping its
// first ~60% and last ~40%, both by line count and by character count,
// noting how much was cut from the middle.
func truncateToolResult(content string, maxLines, maxChars int) string {
	if maxLines > 0 {
		lines := strings.Split(content, "\n")
		if len(lines) > maxLines {
			head := int(float64(maxLines) * 0.6)
			tail := maxLines - head
			omitted := len(lines) - head - tail
			merged := make([]string, 0, maxLines+1)
			merged = append(merged, lines[:head]...)
			merged = append(merged, fmt.Sprintf("... (%d lines omitted) ...", omitted))
			merged = append(merged, lines[len(lines)-tail:]...)
			content = strings.Join(merged, "\n")
		}
	}

	if maxChars > 0 && len(content) > maxChars {
		head := int(float64(maxChars) * 0.6)
		tail := maxChars - head
		omitted := len(content) - head - tail
		content = content[:head] + fmt.Sprintf("\n... (%d chars omitted) ...\n", omitted) + content[len(content)-tail:]
	}

	return content
}

func summarizeDropped(dropped []Message, maxChars int) Message {
	var sb strings.Builder
	sb.WriteString("[earlier conversation summary]\n")
	for _, m := range dropped {
		fmt.Fprintf(&sb, "- %s: %s\n", m.Role, normalizeForSummary(m.Content))
	}
	return Message{Role: "system", Content: truncate(sb.String(), maxChars)}
}

func normalizeForSummary(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const maxLineLen = 200
	if len(s) > maxLineLen {
		s = s[:maxLineLen] + "..."
	}
	return s
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
