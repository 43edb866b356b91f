package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/tools"
)

func newRegistry(names ...string) *tools.Registry {
	infos := make([]tools.Info, 0, len(names))
	for _, n := range names {
		infos = append(infos, tools.Info{Name: n})
	}
	return tools.New(infos)
}

func TestInferExplicitDirective(t *testing.T) {
	a, ok := Infer("%read src/main.go", newRegistry("read"))
	require.True(t, ok)
	assert.Equal(t, "read", a.Tool)
	assert.Equal(t, "src/main.go", a.Args["path"])
}

func TestInferDirectiveRunsShell(t *testing.T) {
	a, ok := Infer("%run go test ./...", newRegistry("run"))
	require.True(t, ok)
	assert.Equal(t, "run", a.Tool)
	assert.Equal(t, "go test ./...", a.Args["command"])
}

func TestInferDirectiveRejectsSensitivePath(t *testing.T) {
	_, ok := Infer("%read ~/.ssh/id_rsa", newRegistry("read"))
	assert.False(t, ok)
}

func TestInferDirectiveUnknownToolFallsThrough(t *testing.T) {
	_, ok := Infer("%frobnicate something", newRegistry("read"))
	assert.False(t, ok)
}

func TestInferReadIntentFromProse(t *testing.T) {
	a, ok := Infer("Can you show me the contents of config.yaml please?", nil)
	require.True(t, ok)
	assert.Equal(t, "read", a.Tool)
	assert.Equal(t, "config.yaml", a.Args["path"])
}

func TestInferReadIntentRejectsSensitivePath(t *testing.T) {
	_, ok := Infer("please open /home/me/.ssh/id_rsa.pub", nil)
	assert.False(t, ok)
}

func TestInferReadSuppressedWhenSearchMentionedAndShellDeclared(t *testing.T) {
	_, ok := Infer("search results: show me the contents of config.yaml", newRegistry("run"))
	assert.False(t, ok)
}

func TestInferReadNotSuppressedWithoutShellTool(t *testing.T) {
	a, ok := Infer("search results: show me the contents of config.yaml", newRegistry("read"))
	require.True(t, ok)
	assert.Equal(t, "read", a.Tool)
}

func TestInferListIntentFromProse(t *testing.T) {
	a, ok := Infer("list the files in internal/tools", nil)
	require.True(t, ok)
	assert.Equal(t, "list", a.Tool)
}

func TestInferSearchIntentFromProse(t *testing.T) {
	a, ok := Infer("search for TODO in internal/handler", nil)
	require.True(t, ok)
	assert.Equal(t, "search", a.Tool)
	assert.Equal(t, "TODO", a.Args["pattern"])
	assert.Equal(t, "internal/handler", a.Args["path"])
}

func TestInferNoMatchReturnsFalse(t *testing.T) {
	_, ok := Infer("hello, how are you today?", nil)
	assert.False(t, ok)
}

func TestQuoteShellArgEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, QuoteShellArg("it's"))
	assert.Equal(t, "''", QuoteShellArg(""))
	assert.Equal(t, "'plain'", QuoteShellArg("plain"))
}
