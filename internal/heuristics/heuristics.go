// Package heuristics infers a tool call from a user's free-text turn when no
// structured tool call was ever emitted, per spec.md §4.I: an explicit
// "%tool ..." directive first, then plain-English read/list/search intent.
package heuristics

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/tools"
)

// Action is one tool call heuristically inferred from free text.
type Action struct {
	Tool string
	Args map[string]any
}

var sensitivePathFragments = []string{
	".ssh", ".gnupg", ".aws/credentials", ".aws/config", ".kube/config",
	"/etc/passwd", "/etc/shadow", ".docker/config.json",
}

func isSensitivePath(path string) bool {
	lower := strings.ToLower(path)
	for _, frag := range sensitivePathFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// directiveRe matches an explicit "%toolName" directive, either
// colon-separated ("%search: TODO") or space-separated ("%read a.go"), per
// spec.md §4.I.
var directiveRe = regexp.MustCompile(`(?m)^\s*%\s*([A-Za-z0-9_\-]+)(?:\s*:\s*(.*)|\s+(.+))?$`)

// bestGuessArgKeyPriority is the order a directive's unparsed rest gets
// assigned to a single arg key when it's neither JSON nor key=value pairs.
var bestGuessArgKeyPriority = []string{"url", "path", "query", "input", "text", "command", "pattern"}

// Infer tries, in order, an explicit registry-aware directive, a read-intent
// phrase, a list-intent phrase, and a search-intent phrase. The first match
// wins. reg supplies the declared tool set the explicit directive matches
// against and lets the read heuristic detect whether a run-shell tool is
// declared. Inference that would target a sensitive path is refused
// outright rather than handed to the guard chain — the heuristic layer
// never proposes what the hard safeguard would only block anyway.
func Infer(text string, reg *tools.Registry) (Action, bool) {
	if a, ok := parseDirective(text, reg); ok {
		return a, true
	}
	if a, ok := inferRead(text, reg); ok {
		return a, true
	}
	if a, ok := inferList(text); ok {
		return a, true
	}
	if a, ok := inferSearch(text); ok {
		return a, true
	}
	return Action{}, false
}

// parseDirective matches "%<toolName>..." against any tool the registry
// declared (directly or via alias) — not a hardcoded keyword set — and
// parses the remainder as JSON, then as key=value pairs, else assigns it to
// a single best-guess arg key, per spec.md §4.I.
func parseDirective(text string, reg *tools.Registry) (Action, bool) {
	if reg == nil {
		return Action{}, false
	}
	m := directiveRe.FindStringSubmatch(text)
	if m == nil {
		return Action{}, false
	}
	info, ok := reg.Resolve(m[1])
	if !ok {
		return Action{}, false
	}
	rest := strings.TrimSpace(m[2])
	if rest == "" {
		rest = strings.TrimSpace(m[3])
	}

	args := parseDirectiveRest(rest, info)
	for _, v := range args {
		if s, ok := v.(string); ok && isSensitivePath(s) {
			return Action{}, false
		}
	}
	return Action{Tool: info.Name, Args: args}, true
}

func parseDirectiveRest(rest string, info tools.Info) map[string]any {
	if rest == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(rest), &obj); err == nil && obj != nil {
		return obj
	}
	if kv, ok := parseKeyValuePairs(rest); ok {
		return kv
	}
	return map[string]any{bestGuessArgKey(info): unquote(rest)}
}

var kvPairRe = regexp.MustCompile(`^([A-Za-z0-9_]+)=(.*)$`)

// parseKeyValuePairs splits rest on top-level whitespace (respecting quoted
// substrings) and requires every resulting field to match key=value; a
// single non-matching field means rest isn't a key=value list at all.
func parseKeyValuePairs(rest string) (map[string]any, bool) {
	fields := splitTopLevel(rest)
	if len(fields) == 0 {
		return nil, false
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		m := kvPairRe.FindStringSubmatch(f)
		if m == nil {
			return nil, false
		}
		out[m[1]] = unquote(strings.TrimSpace(m[2]))
	}
	return out, true
}

func splitTopLevel(s string) []string {
	var out []string
	var cur strings.Builder
	var inQuote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			cur.WriteByte(c)
			if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
			cur.WriteByte(c)
		case c == ' ' || c == '\t':
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// bestGuessArgKey picks the arg key a directive's unstructured rest should be
// assigned to: the first of the declared schema's own keys matching the
// priority order, or a family-based fallback when the tool declared no
// schema at all.
func bestGuessArgKey(info tools.Info) string {
	declared := make(map[string]bool, len(info.ArgKeys))
	for _, k := range info.ArgKeys {
		declared[tools.CanonicalArgKey(k)] = true
	}
	for _, p := range bestGuessArgKeyPriority {
		if declared[p] {
			return p
		}
	}
	switch tools.FamilyCanonical(info.Name) {
	case "run":
		return "command"
	case "search":
		return "pattern"
	case "read", "list":
		return "path"
	case "webfetch":
		return "url"
	default:
		return "text"
	}
}

var readPhraseRe = regexp.MustCompile(`(?i)(?:read|show me|open|cat|display)\s+(?:the\s+)?(?:contents of\s+)?["']?([\w./\-]+\.\w+)["']?`)

// inferRead never fires when the user also says search/find and a run-shell
// tool is declared — search wins, per spec.md §4.I.
func inferRead(text string, reg *tools.Registry) (Action, bool) {
	m := readPhraseRe.FindStringSubmatch(text)
	if m == nil {
		return Action{}, false
	}
	lower := strings.ToLower(text)
	if (strings.Contains(lower, "search") || strings.Contains(lower, "find")) && hasRunShellTool(reg) {
		return Action{}, false
	}
	path := m[1]
	if isSensitivePath(path) {
		return Action{}, false
	}
	return Action{Tool: "read", Args: map[string]any{"path": path}}, true
}

func hasRunShellTool(reg *tools.Registry) bool {
	if reg == nil {
		return false
	}
	return reg.HasFamily("run", "shell", "exec", "bash")
}

var listPhraseRe = regexp.MustCompile(`(?i)(?:list|what'?s in|files in)\s+(?:the\s+)?(?:files? in\s+)?(?:directory\s+)?["']?([\w./\-]+)["']?`)

func inferList(text string) (Action, bool) {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "list") && !strings.Contains(lower, "what's in") && !strings.Contains(lower, "files in") {
		return Action{}, false
	}
	m := listPhraseRe.FindStringSubmatch(text)
	if m == nil {
		return Action{}, false
	}
	path := m[1]
	if isSensitivePath(path) {
		return Action{}, false
	}
	return Action{Tool: "list", Args: map[string]any{"path": path}}, true
}

var searchPhraseRe = regexp.MustCompile(`(?i)(?:search for|find|grep)\s+["']?([^"'\n]+?)["']?(?:\s+in\s+([\w./\-]+))?$`)

func inferSearch(text string) (Action, bool) {
	m := searchPhraseRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Action{}, false
	}
	args := map[string]any{"pattern": strings.TrimSpace(m[1])}
	if len(m) > 2 && m[2] != "" {
		if isSensitivePath(m[2]) {
			return Action{}, false
		}
		args["path"] = m[2]
	}
	return Action{Tool: "search", Args: args}, true
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// QuoteShellArg wraps s for safe inclusion in a POSIX shell command line:
// single-quoted, with any embedded single quote escaped by closing the
// quote, emitting an escaped quote, and reopening it.
func QuoteShellArg(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
