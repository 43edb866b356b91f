package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveDirectAndAlias(t *testing.T) {
	r := New([]Info{{Name: "read_file"}, {Name: "shell"}})

	info, ok := r.Resolve("read_file")
	assert.True(t, ok)
	assert.Equal(t, "read_file", info.Name)

	info, ok = r.Resolve("cat")
	assert.True(t, ok)
	assert.Equal(t, "read_file", info.Name)

	info, ok = r.Resolve("bash")
	assert.True(t, ok)
	assert.Equal(t, "shell", info.Name)
}

func TestResolveUnknownToolFails(t *testing.T) {
	r := New([]Info{{Name: "read_file"}})
	_, ok := r.Resolve("write_file")
	assert.False(t, ok)

	_, ok = r.Resolve("save")
	assert.False(t, ok, "alias family resolves only to a tool the caller actually declared")
}

func TestDuplicateDeclarationFirstWins(t *testing.T) {
	r := New([]Info{
		{Name: "read_file", Description: "first"},
		{Name: "read_file", Description: "second"},
	})
	info, ok := r.Resolve("read_file")
	assert.True(t, ok)
	assert.Equal(t, "first", info.Description)
}

func TestNormalizeArgsRemapsKnownSynonyms(t *testing.T) {
	out := NormalizeArgs(map[string]any{"filepath": "/tmp/a.txt", "cmd": "ls"})
	assert.Equal(t, "/tmp/a.txt", out["path"])
	assert.Equal(t, "ls", out["command"])
	_, hasFilepath := out["filepath"]
	assert.False(t, hasFilepath)
}

func TestNormalizeArgsDoesNotOverwriteExistingCanonicalKey(t *testing.T) {
	out := NormalizeArgs(map[string]any{"path": "/real", "filepath": "/ignored"})
	assert.Equal(t, "/real", out["path"])
	assert.Equal(t, "/ignored", out["filepath"])
}

func TestEnsureQuestionToolInjectsDefaultWhenAbsent(t *testing.T) {
	r := New([]Info{{Name: "read_file"}})
	q := r.EnsureQuestionTool()
	assert.Equal(t, QuestionToolName, q.Name)

	info, ok := r.Resolve(QuestionToolName)
	assert.True(t, ok)
	assert.Equal(t, q.Description, info.Description)
}

func TestEnsureQuestionToolKeepsCallerDeclaration(t *testing.T) {
	r := New([]Info{{Name: "question", Description: "caller's own"}})
	q := r.EnsureQuestionTool()
	assert.Equal(t, "caller's own", q.Description)
}

func TestListIsSortedByName(t *testing.T) {
	r := New([]Info{{Name: "zeta"}, {Name: "alpha"}, {Name: "mid"}})
	list := r.List()
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, []string{list[0].Name, list[1].Name, list[2].Name})
}
