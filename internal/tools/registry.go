// Package tools indexes the tool set declared on an incoming chat-completions
// request and normalizes the many synonymous names/argument keys models
// actually emit down to the names the caller declared, per spec.md §4.F.
package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Info is one tool's OpenAI-style function declaration.
type Info struct {
	Name        string
	Description string
	Parameters  map[string]any
	// ArgKeys is the ordered list of parameter names the caller's own
	// function.parameters.properties declared for this tool. Empty means the
	// caller declared no arg schema (or none could be extracted), in which
	// case normalization leaves argument keys untouched.
	ArgKeys []string
}

// QuestionToolName is the tool glmproxy synthesizes a call to when a guard
// needs the caller to confirm a risky action, per spec.md §4.J.
const QuestionToolName = "question"

// aliasFamilies groups common synonymous tool names model output actually
// uses under one canonical family. A family only resolves to whichever of its
// members the caller actually declared — glmproxy never invents a tool call
// to a name the caller never offered.
var aliasFamilies = [][]string{
	{"read", "read_file", "readfile", "cat", "view", "open_file"},
	{"write", "write_file", "writefile", "save", "create_file"},
	{"edit", "edit_file", "patch", "str_replace", "modify"},
	{"list", "ls", "list_dir", "listdir", "dir"},
	{"search", "grep", "find", "rg"},
	{"run", "shell", "exec", "bash", "command"},
	{"webfetch", "web_fetch"},
	{"todowrite", "todo_write", "write_todos"},
	{QuestionToolName, "ask", "confirm", "clarify"},
}

// argKeySynonyms maps argument keys models commonly emit to the canonical
// key name glmproxy's own Guards evaluate against (path, command, content,
// pattern). Canonicalize applies this inbound, before Guards run; Finalize
// reverses it — via the caller's own declared ArgKeys — outbound.
var argKeySynonyms = map[string]string{
	"filepath":     "path",
	"file_path":    "path",
	"filename":     "path",
	"dir":          "path",
	"directory":    "path",
	"cmd":          "command",
	"cmdline":      "command",
	"command_line": "command",
	"query":        "pattern",
	"text":         "content",
}

// shellMetadataKeys are argument keys a model sometimes attaches to a shell
// tool call that are not part of glmproxy's canonical shell-args shape and
// get dropped at Finalize time, per spec.md §4.F.
var shellMetadataKeys = map[string]bool{
	"description": true, "workdir": true, "cwd": true, "directory": true,
	"timeout": true, "shell": true, "tty": true, "login": true,
}

var webfetchFormats = map[string]bool{"text": true, "markdown": true, "html": true}

// Registry holds one request's declared tool set plus the alias table built
// from it. It is built fresh per request — there is no cross-request tool
// state to guard with a mutex.
type Registry struct {
	byName  map[string]Info
	aliases map[string]string
}

// New indexes declared, the tool list a chat-completions request carried. If
// declared repeats a name, the first occurrence wins and later ones are
// silently ignored — no collision warning is emitted.
func New(declared []Info) *Registry {
	r := &Registry{
		byName:  make(map[string]Info, len(declared)),
		aliases: make(map[string]string),
	}
	for _, info := range declared {
		key := strings.ToLower(info.Name)
		if _, exists := r.byName[key]; exists {
			continue
		}
		if info.ArgKeys == nil {
			info.ArgKeys = ArgKeysFromParameters(info.Parameters)
		}
		r.byName[key] = info
	}
	r.buildAliases()
	return r
}

// ArgKeysFromParameters extracts the declared parameter names from an
// OpenAI-style function.parameters JSON-schema object's "properties" map,
// sorted for determinism (the source map has no stable order once decoded).
func ArgKeysFromParameters(params map[string]any) []string {
	if params == nil {
		return nil
	}
	props, ok := params["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return nil
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) buildAliases() {
	for _, family := range aliasFamilies {
		canonical := ""
		for _, name := range family {
			if _, ok := r.byName[name]; ok {
				canonical = name
				break
			}
		}
		if canonical == "" {
			continue
		}
		for _, name := range family {
			if _, exists := r.aliases[name]; !exists {
				r.aliases[name] = canonical
			}
		}
	}
}

// Resolve looks up name directly, then through the alias table. It returns
// ok=false if neither the caller nor any alias family declared a matching
// tool.
func (r *Registry) Resolve(name string) (Info, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if info, ok := r.byName[key]; ok {
		return info, true
	}
	if canonical, ok := r.aliases[key]; ok {
		if info, ok := r.byName[canonical]; ok {
			return info, true
		}
	}
	return Info{}, false
}

// List returns the declared tools in a stable, name-sorted order (used when
// rendering the planner's tool-schema preamble).
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.byName))
	for _, info := range r.byName {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HasFamily reports whether the caller declared a tool resolving to any of
// the given family-canonical names (e.g. "run" for a shell tool), regardless
// of which alias spelling was actually declared.
func (r *Registry) HasFamily(names ...string) bool {
	for _, n := range names {
		if _, ok := r.Resolve(n); ok {
			return true
		}
	}
	return false
}

// normalizeKeyName lowercases an argument key for case-insensitive matching.
func normalizeKeyName(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// CanonicalArgKey maps a single argument key — however the model or the
// tool's own declared schema spelled it — to glmproxy's internal canonical
// name (path, command, content, pattern, …) that Guards evaluate against.
func CanonicalArgKey(key string) string {
	nk := normalizeKeyName(key)
	if canon, ok := argKeySynonyms[nk]; ok {
		return canon
	}
	return nk
}

// FamilyCanonical returns the first (canonical) member of name's alias
// family, or name itself if it belongs to none — the stable key glmproxy's
// own Guards and tool-handling logic switch on, independent of which alias
// spelling the caller declared or the model emitted.
func FamilyCanonical(name string) string {
	key := normalizeKeyName(name)
	for _, family := range aliasFamilies {
		for _, member := range family {
			if member == key {
				return family[0]
			}
		}
	}
	return key
}

// Canonical is the result of resolving and canonicalizing one tool call
// before Guards evaluate it.
type Canonical struct {
	Info Info
	// Tool is the family-canonical tool name (e.g. "run", "write") Guards
	// and mutation-boundary logic switch on.
	Tool string
	// Args has every key rewritten to its canonical form (path, command,
	// content, pattern, …).
	Args map[string]any
	// DeclaredArgKeys holds the caller's own declared ArgKeys, each mapped
	// to its canonical form, for Guards' unexpected-argument check. Empty
	// means the caller declared no arg schema for this tool.
	DeclaredArgKeys []string
	// Resolved is false when tool matched no declared tool or alias family
	// at all.
	Resolved bool
}

// Canonicalize resolves tool against the declared registry and rewrites args
// to canonical key names, ready for Guards to evaluate.
func (r *Registry) Canonicalize(tool string, args map[string]any) Canonical {
	canonArgs := make(map[string]any, len(args))
	for k, v := range args {
		canonArgs[CanonicalArgKey(k)] = v
	}

	info, ok := r.Resolve(tool)
	if !ok {
		return Canonical{Tool: FamilyCanonical(tool), Args: canonArgs}
	}

	declared := make([]string, 0, len(info.ArgKeys))
	for _, k := range info.ArgKeys {
		declared = append(declared, CanonicalArgKey(k))
	}
	return Canonical{
		Info:            info,
		Tool:            FamilyCanonical(info.Name),
		Args:            canonArgs,
		DeclaredArgKeys: declared,
		Resolved:        true,
	}
}

// Finalize translates Guard-approved canonical args back to the form the
// caller's own declared tool schema expects and applies the shell/webfetch/
// todowrite presentation rules spec.md §4.F documents. canonicalTool is the
// family-canonical name Guards evaluated (e.g. "run"); it is resolved back
// to the caller's declared tool to recover the emitted function name.
func (r *Registry) Finalize(canonicalTool string, args map[string]any) (string, map[string]any) {
	info, ok := r.Resolve(canonicalTool)
	if !ok {
		return canonicalTool, args
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, canon := range []string{"path", "command", "content", "pattern"} {
		if declared, ok := declaredKeyFor(info, canon); ok {
			renameKey(out, canon, declared)
		}
	}
	out = applyToolFamilyRules(info, out)
	return info.Name, out
}

// declaredKeyFor returns the caller's own declared key spelling (preserving
// its original case, e.g. "filePath") whose canonical form is canon.
func declaredKeyFor(info Info, canon string) (string, bool) {
	for _, k := range info.ArgKeys {
		if CanonicalArgKey(k) == canon {
			return k, true
		}
	}
	return "", false
}

func renameKey(args map[string]any, from, to string) {
	if from == to {
		return
	}
	v, ok := args[from]
	if !ok {
		return
	}
	delete(args, from)
	args[to] = v
}

func applyToolFamilyRules(info Info, args map[string]any) map[string]any {
	switch FamilyCanonical(info.Name) {
	case "run":
		return normalizeShellArgs(args)
	case "webfetch":
		return normalizeWebfetchArgs(args)
	case "todowrite":
		return normalizeTodoWriteArgs(args)
	default:
		return args
	}
}

// normalizeShellArgs drops non-canonical metadata a model attached to a
// shell call and synthesizes a description from the command, per spec.md
// §4.F.
func normalizeShellArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if shellMetadataKeys[normalizeKeyName(k)] {
			continue
		}
		out[k] = v
	}
	if cmd, ok := stringArg(out, "command"); ok && cmd != "" {
		out["description"] = "run shell command: " + cmd
	}
	return out
}

// normalizeWebfetchArgs coerces format to one of {text, markdown, html},
// defaulting to text, per spec.md §4.F.
func normalizeWebfetchArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	format, _ := stringArg(out, "format")
	format = strings.ToLower(strings.TrimSpace(format))
	if !webfetchFormats[format] {
		format = "text"
	}
	out["format"] = format
	return out
}

// normalizeTodoWriteArgs materializes each todo item with
// {id, title, text, content, status, priority} defaults, per spec.md §4.F.
func normalizeTodoWriteArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	raw, ok := out["todos"]
	if !ok {
		return out
	}
	list, ok := raw.([]any)
	if !ok {
		return out
	}
	normalized := make([]any, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			normalized[i] = item
			continue
		}
		normalized[i] = materializeTodo(m)
	}
	out["todos"] = normalized
	return out
}

func materializeTodo(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+6)
	for k, v := range m {
		out[k] = v
	}
	text, _ := stringArg(out, "text")
	if text == "" {
		text, _ = stringArg(out, "content")
	}
	if text == "" {
		text, _ = stringArg(out, "title")
	}
	if _, ok := out["title"]; !ok {
		out["title"] = text
	}
	if _, ok := out["text"]; !ok {
		out["text"] = text
	}
	if _, ok := out["content"]; !ok {
		out["content"] = text
	}
	if _, ok := out["status"]; !ok {
		out["status"] = "todo"
	}
	if _, ok := out["priority"]; !ok {
		out["priority"] = "medium"
	}
	if _, ok := out["id"]; !ok {
		sum := sha256.Sum256([]byte(text))
		out["id"] = hex.EncodeToString(sum[:])[:12]
	}
	return out
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// NormalizeArgs remaps argument keys a model used to glmproxy's canonical
// name, without any declared-schema awareness. Retained for callers (and
// tests) that only need the bare synonym remap; Canonicalize/Finalize is the
// schema-aware path Handler's dispatch uses.
func NormalizeArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		key := k
		if canonical, ok := argKeySynonyms[normalizeKeyName(k)]; ok {
			if _, clash := args[canonical]; !clash {
				key = canonical
			}
		}
		out[key] = v
	}
	return out
}

// DefaultQuestionTool is the schema glmproxy injects when the caller never
// declared a "question" tool itself but a guard needs to ask one anyway.
func DefaultQuestionTool() Info {
	return Info{
		Name:        QuestionToolName,
		Description: "Ask the user a clarifying or confirmation question before proceeding with a risky action.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{"type": "string"},
				"options": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required": []string{"question"},
		},
		ArgKeys: []string{"question", "options"},
	}
}

// EnsureQuestionTool returns the caller's own "question" tool declaration if
// one exists, otherwise registers and returns DefaultQuestionTool().
func (r *Registry) EnsureQuestionTool() Info {
	if info, ok := r.byName[QuestionToolName]; ok {
		return info
	}
	info := DefaultQuestionTool()
	r.byName[QuestionToolName] = info
	r.aliases[QuestionToolName] = QuestionToolName
	return info
}
