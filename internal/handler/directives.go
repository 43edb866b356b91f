package handler

import (
	"encoding/json"
	"regexp"
	"strings"
)

func jsonUnmarshalLoose(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}

var thinkingDirectiveRe = regexp.MustCompile(`(?im)^\s*/thinking\s+(on|off)\s*$`)

// stripThinkingDirective removes a "/thinking on|off" line from content and
// reports the requested setting, per spec.md §4.L step 5.
func stripThinkingDirective(content string) (stripped string, enabled bool, found bool) {
	loc := thinkingDirectiveRe.FindStringSubmatchIndex(content)
	if loc == nil {
		return content, false, false
	}
	enabled = content[loc[2]:loc[3]] == "on"
	stripped = strings.TrimSpace(content[:loc[0]] + content[loc[1]:])
	return stripped, enabled, true
}

// affirmativeWhitelist mirrors spec.md §4.L step 2's exact string set.
var affirmativeWhitelist = map[string]bool{
	"y": true, "yes": true, "ok": true, "proceed": true, "continue": true,
	"confirm": true, "approved": true, "allow": true, "1": true, "true": true,
}

const affirmativeUIPhraseMarker = "user has answered your questions:"
const affirmativeUIPhraseConfirm = "proceed (recommended)"

// isAffirmative implements spec.md §4.L step 2's confirmation semantics: a
// plain whitelisted word, an {ok|confirmed|confirm: true} or
// {answer: <affirm>} JSON object, or the upstream UI's fixed confirmation
// phrase pair. Anything else (including a UI wording change) falls through
// to "declined", per the documented Open Question.
func isAffirmative(content string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(content))
	if affirmativeWhitelist[trimmed] {
		return true
	}
	if obj, ok := parseAffirmativeJSON(trimmed); ok {
		return obj
	}
	if strings.Contains(trimmed, affirmativeUIPhraseMarker) && strings.Contains(trimmed, affirmativeUIPhraseConfirm) {
		return true
	}
	return false
}

func parseAffirmativeJSON(s string) (affirmative bool, matched bool) {
	if !strings.HasPrefix(strings.TrimSpace(s), "{") {
		return false, false
	}
	var obj map[string]any
	if err := jsonUnmarshalLoose(s, &obj); err != nil {
		return false, false
	}
	for _, key := range []string{"ok", "confirmed", "confirm"} {
		if v, ok := obj[key].(bool); ok {
			return v, true
		}
	}
	if answer, ok := obj["answer"].(string); ok {
		return affirmativeWhitelist[strings.ToLower(strings.TrimSpace(answer))], true
	}
	return false, false
}
