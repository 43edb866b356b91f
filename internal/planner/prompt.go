package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/tools"
)

// PromptOptions controls how BuildSystemPrompt renders the planning
// instructions, per spec.md §6.4's PROXY_TOOL_PROMPT_* settings.
type PromptOptions struct {
	Tools               []tools.Info
	IncludeSchema       bool
	SchemaMaxChars      int
	ExtraSystem         string
	ExtraSystemMaxChars int
}

const basePromptRules = `You are the planning stage of an autonomous coding assistant.
Respond with a single JSON object shaped like:
{"plan": "<brief plan summary>", "actions": [{"tool": "<name>", "args": {...}, "why": "<reason for this call>", "expect": "<what you expect to learn or happen>", "safety": {"risk": "<low|medium|high>", "notes": "<why you judged it that way>"}}], "final": "<final text, once done>", "thought": "<brief working reasoning>", "done": <bool>}

Rules:
- Use only the tools listed below, by their exact declared names.
- Call at most one round of actions per response; wait for their results before planning further.
- Set "done": true and fill "final" only when no further tool calls are needed.
- Never invent a tool name that isn't listed.
- Respond with JSON only — no commentary outside the object.

Example of a tool-using plan:
{"plan": "Inspect the failing config before answering.", "actions": [{"tool": "read_file", "args": {"path": "config.yaml"}, "why": "need to see the current setting", "expect": "the file's contents", "safety": {"risk": "low", "notes": "read-only"}}], "thought": "check the file before responding", "done": false}

Example of an answer-only plan:
{"plan": "Answer directly, no tool calls needed.", "actions": [], "final": "Go's zero value for an int is 0.", "thought": "this is a factual question with no file or command to check", "done": true}`

// BuildSystemPrompt renders the planner's system prompt: the fixed rules,
// the caller's declared tool set (optionally with each tool's JSON schema,
// truncated to SchemaMaxChars), and any extra system text the caller
// supplied (truncated to ExtraSystemMaxChars).
func BuildSystemPrompt(opts PromptOptions) string {
	var sb strings.Builder
	sb.WriteString(basePromptRules)
	sb.WriteString("\n\nAvailable tools:\n")

	for _, t := range opts.Tools {
		fmt.Fprintf(&sb, "- %s", t.Name)
		if t.Description != "" {
			fmt.Fprintf(&sb, ": %s", t.Description)
		}
		sb.WriteByte('\n')
		if opts.IncludeSchema && t.Parameters != nil {
			schema := renderSchema(t.Parameters, opts.SchemaMaxChars)
			if schema != "" {
				fmt.Fprintf(&sb, "  schema: %s\n", schema)
			}
		}
	}

	if opts.ExtraSystem != "" {
		extra := truncate(opts.ExtraSystem, opts.ExtraSystemMaxChars)
		sb.WriteString("\nAdditional context:\n")
		sb.WriteString(extra)
		sb.WriteByte('\n')
	}

	return sb.String()
}

func renderSchema(params map[string]any, maxChars int) string {
	raw, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return truncate(string(raw), maxChars)
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
