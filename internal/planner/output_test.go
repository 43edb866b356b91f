package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutputStrict(t *testing.T) {
	raw := `{"thought":"t","actions":[{"tool":"read","args":{"path":"a.txt"}}],"done":false}`
	out, err := ParseOutput(raw, false)
	require.NoError(t, err)
	assert.Equal(t, "t", out.Thought)
	require.Len(t, out.Actions, 1)
	assert.Equal(t, "read", out.Actions[0].Tool)
}

func TestParseOutputParsesActionReasoningFields(t *testing.T) {
	raw := `{"plan":"check the file","actions":[{"tool":"read","args":{"path":"a.txt"},"why":"need contents","expect":"file text","safety":{"risk":"low","notes":"read-only"}}]}`
	out, err := ParseOutput(raw, false)
	require.NoError(t, err)
	assert.Equal(t, "check the file", out.Plan)
	require.Len(t, out.Actions, 1)
	assert.Equal(t, "need contents", out.Actions[0].Why)
	assert.Equal(t, "file text", out.Actions[0].Expect)
	require.NotNil(t, out.Actions[0].Safety)
	assert.Equal(t, "low", out.Actions[0].Safety.Risk)
}

func TestParseOutputStripsCodeFence(t *testing.T) {
	raw := "```json\n{\"done\":true,\"final\":\"ok\"}\n```"
	out, err := ParseOutput(raw, false)
	require.NoError(t, err)
	assert.True(t, out.Done)
	assert.Equal(t, "ok", out.Final)
}

func TestParseOutputAcceptsLegacyAnswerKey(t *testing.T) {
	raw := `{"done":true,"answer":"ok"}`
	out, err := ParseOutput(raw, false)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Final)
}

func TestParseOutputScanRecoversFromProse(t *testing.T) {
	raw := `Sure, here is my plan: {"done":true,"final":"42"} — hope that helps!`
	out, err := ParseOutput(raw, false)
	require.NoError(t, err)
	assert.Equal(t, "42", out.Final)
}

func TestParseOutputCoercesUnparsableText(t *testing.T) {
	raw := "I think the answer is just 42, no JSON here."
	out, err := ParseOutput(raw, true)
	require.NoError(t, err)
	assert.True(t, out.Done)
	assert.Equal(t, raw, out.Final)
}

func TestParseOutputFailsWithoutCoerce(t *testing.T) {
	raw := "not json at all"
	_, err := ParseOutput(raw, false)
	require.Error(t, err)
}

func TestParseRawToolCallsArray(t *testing.T) {
	raw := `[{"name":"read_file","arguments":{"path":"a.txt"}}]`
	actions, ok := ParseRawToolCalls(raw)
	require.True(t, ok)
	require.Len(t, actions, 1)
	assert.Equal(t, "read_file", actions[0].Tool)
	assert.Equal(t, "a.txt", actions[0].Args["path"])
}

func TestParseRawToolCallsToolArgsShape(t *testing.T) {
	raw := `[{"tool":"shell","args":{"command":"ls"}}]`
	actions, ok := ParseRawToolCalls(raw)
	require.True(t, ok)
	assert.Equal(t, "shell", actions[0].Tool)
	assert.Equal(t, "ls", actions[0].Args["command"])
}

func TestParseRawToolCallsRecoversFromProseArray(t *testing.T) {
	raw := `Tool calls: [{"name":"read_file","arguments":{"path":"b.txt"}}] done.`
	actions, ok := ParseRawToolCalls(raw)
	require.True(t, ok)
	assert.Equal(t, "read_file", actions[0].Tool)
}

func TestParseRawToolCallsRejectsNonToolJSON(t *testing.T) {
	raw := `{"hello":"world"}`
	_, ok := ParseRawToolCalls(raw)
	assert.False(t, ok)
}

func TestCoerceFillsDoneWhenEmpty(t *testing.T) {
	out := Coerce(Output{})
	assert.True(t, out.Done)
}

func TestCoerceLeavesActionsAlone(t *testing.T) {
	out := Coerce(Output{Actions: []Action{{Tool: "read"}}})
	assert.False(t, out.Done)
}
