package planner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/tools"
)

func TestBuildSystemPromptListsTools(t *testing.T) {
	prompt := BuildSystemPrompt(PromptOptions{
		Tools: []tools.Info{
			{Name: "read_file", Description: "Read a file"},
			{Name: "shell", Description: "Run a shell command"},
		},
	})
	assert.Contains(t, prompt, "read_file: Read a file")
	assert.Contains(t, prompt, "shell: Run a shell command")
}

func TestBuildSystemPromptIncludesSchemaWhenEnabled(t *testing.T) {
	prompt := BuildSystemPrompt(PromptOptions{
		Tools: []tools.Info{
			{Name: "read_file", Parameters: map[string]any{"type": "object"}},
		},
		IncludeSchema:  true,
		SchemaMaxChars: 1000,
	})
	assert.Contains(t, prompt, "schema:")
}

func TestBuildSystemPromptOmitsSchemaWhenDisabled(t *testing.T) {
	prompt := BuildSystemPrompt(PromptOptions{
		Tools: []tools.Info{
			{Name: "read_file", Parameters: map[string]any{"type": "object"}},
		},
		IncludeSchema: false,
	})
	assert.NotContains(t, prompt, "schema:")
}

func TestBuildSystemPromptIncludesExampleOutputs(t *testing.T) {
	prompt := BuildSystemPrompt(PromptOptions{})
	assert.Contains(t, prompt, "Example of a tool-using plan:")
	assert.Contains(t, prompt, "Example of an answer-only plan:")
	assert.Contains(t, prompt, `"final": "Go's zero value for an int is 0."`)
}

func TestBuildSystemPromptTruncatesExtraSystem(t *testing.T) {
	prompt := BuildSystemPrompt(PromptOptions{
		ExtraSystem:         strings.Repeat("x", 100),
		ExtraSystemMaxChars: 10,
	})
	assert.Contains(t, prompt, "...(truncated)")
}
