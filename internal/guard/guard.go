// Package guard runs every planned tool action through glmproxy's safety
// policy chain, per spec.md §4.J: unconditional hard blocks first (protected
// OS paths, destructive shell commands), then network, argument-shape,
// mutation-source, glob, path, write-size and shell checks, which block
// outright, and last a delete-family check, the only one that asks for
// confirmation (delete tools, and run commands containing "rm "). An
// over-long batch also leads to a confirmation question, raised by the
// caller when Evaluate returns ErrTooManyActions.
package guard

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Status is the verdict Evaluate reaches for one action.
type Status int

const (
	StatusOK Status = iota
	StatusBlocked
	StatusConfirmationRequired
)

// Action is one planned tool call submitted for safety evaluation.
type Action struct {
	Tool string
	Args map[string]any
	// Source records where this action came from: "planner" (trusted model
	// output), "heuristic" (Component I's free-text inference), or "raw"
	// (an opportunistically parsed raw tool-call array). Mutation checks key
	// off this.
	Source string
	// DeclaredArgKeys holds the tool's own declared argument keys, already
	// mapped to canonical form. Empty means the caller declared no arg
	// schema for this tool, so checkArgShape skips the unexpected-argument
	// check entirely.
	DeclaredArgKeys []string
}

// Outcome is the per-action verdict.
type Outcome struct {
	Status Status
	Reason string
	// RewrittenArgs holds Args with any safety-driven rewrite applied (e.g.
	// a resolved-and-confined path), populated only when Status == StatusOK.
	RewrittenArgs map[string]any
	// ConfirmQuestion is set when Status == StatusConfirmationRequired: the
	// text to ask the caller via a synthesized "question" tool-call.
	ConfirmQuestion string
}

// Config carries the policy knobs spec.md §6.4's PROXY_* settings expose.
type Config struct {
	MaxActionsPerTurn      int
	AllowNetwork           bool
	AllowWebSearch         bool
	AllowAnyCommand        bool
	WorkspaceRoots         []string
	ConfirmDangerousCmds   bool
	AllowExplicitMutations bool
	AllowRawMutations      bool
}

// ErrTooManyActions is returned by Evaluate when a single turn proposes more
// actions than cfg.MaxActionsPerTurn allows.
var ErrTooManyActions = errors.New("too many actions in one turn")

var mutatingTools = map[string]bool{
	"write": true, "edit": true, "delete": true, "run": true,
}

var deleteTools = map[string]bool{"delete": true}

// IsMutatingTool reports whether tool belongs to the mutation set (write,
// edit, delete, run) Handler uses to enforce the single-mutation-per-batch
// boundary before actions ever reach Evaluate.
func IsMutatingTool(tool string) bool {
	return mutatingTools[tool]
}

// Evaluate runs the full chain over actions in order, applying an
// action-count ceiling and duplicate-action rejection before the per-action
// chain, per spec.md §8 (testable properties #2, #3, #4, #6).
func Evaluate(cfg Config, actions []Action) ([]Outcome, error) {
	if cfg.MaxActionsPerTurn > 0 && len(actions) > cfg.MaxActionsPerTurn {
		return nil, ErrTooManyActions
	}

	seen := make(map[string]bool, len(actions))
	out := make([]Outcome, len(actions))
	for i, a := range actions {
		key := dedupeKey(a)
		if seen[key] {
			out[i] = Outcome{Status: StatusBlocked, Reason: "duplicate_action"}
			continue
		}
		seen[key] = true
		out[i] = evaluateOne(cfg, a)
	}
	return out, nil
}

func dedupeKey(a Action) string {
	var sb strings.Builder
	sb.WriteString(a.Tool)
	sb.WriteByte('|')
	keys := make([]string, 0, len(a.Args))
	for k := range a.Args {
		keys = append(keys, k)
	}
	sortStrings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%v;", k, a.Args[k])
	}
	return sb.String()
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func evaluateOne(cfg Config, a Action) Outcome {
	if o := checkHardSafeguard(a); o.Status != StatusOK {
		return o
	}
	if o := checkNetworkPolicy(cfg, a); o.Status != StatusOK {
		return o
	}
	if o := checkArgShape(a); o.Status != StatusOK {
		return o
	}
	if o := checkMutationSource(cfg, a); o.Status != StatusOK {
		return o
	}
	if o := checkGlobSafety(a); o.Status != StatusOK {
		return o
	}

	args := a.Args
	if o, rewritten, ok := checkPathSafety(cfg, a); !ok {
		return o
	} else if rewritten != nil {
		args = rewritten
	}
	a.Args = args

	if o := checkWriteBounds(a); o.Status != StatusOK {
		return o
	}
	if o := checkShellPolicy(cfg, a); o.Status != StatusOK {
		return o
	}
	if o := checkDeleteConfirmation(cfg, a); o.Status != StatusOK {
		return o
	}

	return Outcome{Status: StatusOK, RewrittenArgs: args}
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func checkHardSafeguard(a Action) Outcome {
	switch a.Tool {
	case "write", "edit", "delete":
		path, ok := stringArg(a.Args, "path")
		if !ok || path == "" {
			return Outcome{Status: StatusOK}
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return Outcome{Status: StatusOK}
		}
		if reason := hardBlockPath(abs); reason != "" {
			return Outcome{Status: StatusBlocked, Reason: reason}
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil && resolved != abs {
			if reason := hardBlockPath(resolved); reason != "" {
				return Outcome{Status: StatusBlocked, Reason: reason}
			}
		}
	case "run":
		cmd, ok := stringArg(a.Args, "command")
		if !ok || cmd == "" {
			return Outcome{Status: StatusOK}
		}
		if reason := hardBlockCommand(cmd); reason != "" {
			return Outcome{Status: StatusBlocked, Reason: reason}
		}
	}
	return Outcome{Status: StatusOK}
}

func checkNetworkPolicy(cfg Config, a Action) Outcome {
	switch a.Tool {
	case "web_search":
		if !cfg.AllowWebSearch {
			return Outcome{Status: StatusBlocked, Reason: "web_search_disabled"}
		}
	case "fetch", "http", "browse":
		if !cfg.AllowNetwork {
			return Outcome{Status: StatusBlocked, Reason: "network_tools_disabled"}
		}
	}
	return Outcome{Status: StatusOK}
}

func checkArgShape(a Action) Outcome {
	switch a.Tool {
	case "write", "edit":
		if path, ok := stringArg(a.Args, "path"); !ok || strings.TrimSpace(path) == "" {
			return Outcome{Status: StatusBlocked, Reason: "missing_path_argument"}
		}
	case "run":
		if cmd, ok := stringArg(a.Args, "command"); !ok || strings.TrimSpace(cmd) == "" {
			return Outcome{Status: StatusBlocked, Reason: "missing_command_argument"}
		}
	}
	if o := checkUnexpectedArgs(a); o.Status != StatusOK {
		return o
	}
	return Outcome{Status: StatusOK}
}

// bookkeepingArgKeys are canonical keys glmproxy itself attaches or consumes
// regardless of the tool's declared schema (confirmation replay, shell
// working directory) — never flagged as unexpected.
var bookkeepingArgKeys = map[string]bool{"__confirmed": true, "cwd": true}

// checkUnexpectedArgs rejects an action carrying an argument key the
// caller's own declared schema never listed, per spec.md §4.J/§7's
// unexpected_arg. Skipped entirely when the tool declared no arg schema.
func checkUnexpectedArgs(a Action) Outcome {
	if len(a.DeclaredArgKeys) == 0 {
		return Outcome{Status: StatusOK}
	}
	allowed := make(map[string]bool, len(a.DeclaredArgKeys)+len(bookkeepingArgKeys))
	for _, k := range a.DeclaredArgKeys {
		allowed[k] = true
	}
	for k := range bookkeepingArgKeys {
		allowed[k] = true
	}
	for k := range a.Args {
		if !allowed[k] {
			return Outcome{Status: StatusBlocked, Reason: "unexpected_arg"}
		}
	}
	return Outcome{Status: StatusOK}
}

// checkGlobSafety rejects a "pattern" glob argument that is rooted or
// escapes its starting directory, per spec.md §4.J: patterns must be
// relative, contain no "..", and not be rooted at "/", "~", a drive letter,
// or a UNC "//" prefix.
func checkGlobSafety(a Action) Outcome {
	pattern, ok := stringArg(a.Args, "pattern")
	if !ok || pattern == "" {
		return Outcome{Status: StatusOK}
	}
	if reason := globUnsafeReason(pattern); reason != "" {
		return Outcome{Status: StatusBlocked, Reason: reason}
	}
	return Outcome{Status: StatusOK}
}

func globUnsafeReason(pattern string) string {
	if strings.Contains(pattern, "..") {
		return "glob_traversal_rejected"
	}
	if strings.HasPrefix(pattern, "//") || strings.HasPrefix(pattern, "/") || strings.HasPrefix(pattern, "~") {
		return "glob_rooted_rejected"
	}
	if len(pattern) >= 2 && pattern[1] == ':' && isASCIILetter(pattern[0]) {
		return "glob_rooted_rejected"
	}
	return ""
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func checkMutationSource(cfg Config, a Action) Outcome {
	if !mutatingTools[a.Tool] {
		return Outcome{Status: StatusOK}
	}
	switch a.Source {
	case "heuristic":
		if !cfg.AllowExplicitMutations {
			return Outcome{Status: StatusBlocked, Reason: "heuristic_mutation_disabled"}
		}
	case "raw":
		if !cfg.AllowRawMutations {
			return Outcome{Status: StatusBlocked, Reason: "raw_mutation_disabled"}
		}
	}
	return Outcome{Status: StatusOK}
}

// checkPathSafety confines "path"-bearing actions to the configured
// workspace roots, rewriting a relative path to its resolved absolute form.
// It returns ok=false with the blocking Outcome when the path escapes every
// root; otherwise ok=true with possibly-rewritten args.
func checkPathSafety(cfg Config, a Action) (Outcome, map[string]any, bool) {
	path, ok := stringArg(a.Args, "path")
	if !ok || path == "" || len(cfg.WorkspaceRoots) == 0 {
		return Outcome{Status: StatusOK}, nil, true
	}

	if strings.Contains(path, "..") {
		return Outcome{Status: StatusBlocked, Reason: "path_traversal_rejected"}, nil, false
	}
	if reason := sensitiveAnywhereReason(path); reason != "" {
		return Outcome{Status: StatusBlocked, Reason: "sensitive_path"}, nil, false
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Outcome{Status: StatusBlocked, Reason: "path_unresolvable"}, nil, false
	}

	within := false
	for _, root := range cfg.WorkspaceRoots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
			within = true
			break
		}
	}
	if !within {
		return Outcome{Status: StatusBlocked, Reason: "path_outside_workspace"}, nil, false
	}

	rewritten := make(map[string]any, len(a.Args))
	for k, v := range a.Args {
		rewritten[k] = v
	}
	rewritten["path"] = abs
	return Outcome{Status: StatusOK}, rewritten, true
}

// maxWriteBytes bounds a single write/edit payload so a runaway tool call
// can't exhaust memory or disk in one shot.
const maxWriteBytes = 2_000_000

func checkWriteBounds(a Action) Outcome {
	if a.Tool != "write" && a.Tool != "edit" {
		return Outcome{Status: StatusOK}
	}
	content, ok := stringArg(a.Args, "content")
	if !ok {
		return Outcome{Status: StatusOK}
	}
	if len(content) > maxWriteBytes {
		return Outcome{Status: StatusBlocked, Reason: "write_too_large"}
	}
	return Outcome{Status: StatusOK}
}

var shellDenylist = []string{"curl ", "wget ", "nc ", "ncat ", "ssh ", "scp ", "telnet "}

func checkShellPolicy(cfg Config, a Action) Outcome {
	if a.Tool != "run" {
		return Outcome{Status: StatusOK}
	}
	cmd, _ := stringArg(a.Args, "command")
	cmdLower := strings.ToLower(cmd)

	if !cfg.AllowAnyCommand && !cfg.AllowNetwork {
		for _, d := range shellDenylist {
			if strings.Contains(cmdLower, d) {
				return Outcome{Status: StatusBlocked, Reason: "network_command_disabled"}
			}
		}
	}

	if cwd, ok := stringArg(a.Args, "cwd"); ok && cwd != "" && len(cfg.WorkspaceRoots) > 0 {
		abs, err := filepath.Abs(cwd)
		if err != nil {
			return Outcome{Status: StatusBlocked, Reason: "cwd_unresolvable"}
		}
		within := false
		for _, root := range cfg.WorkspaceRoots {
			rootAbs, err := filepath.Abs(root)
			if err == nil && (abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator))) {
				within = true
				break
			}
		}
		if !within {
			return Outcome{Status: StatusBlocked, Reason: "cwd_outside_workspace"}
		}
	}

	return Outcome{Status: StatusOK}
}

func checkDeleteConfirmation(cfg Config, a Action) Outcome {
	isDelete := deleteTools[a.Tool]
	cmd, _ := stringArg(a.Args, "command")
	if a.Tool == "run" && strings.Contains(strings.ToLower(cmd), "rm ") {
		isDelete = true
	}
	if !isDelete || !cfg.ConfirmDangerousCmds {
		return Outcome{Status: StatusOK}
	}
	if confirmed, _ := a.Args["__confirmed"].(bool); confirmed {
		return Outcome{Status: StatusOK}
	}

	target, _ := stringArg(a.Args, "path")
	if target == "" {
		target = cmd
	}
	return Outcome{
		Status:          StatusConfirmationRequired,
		ConfirmQuestion: fmt.Sprintf("This will delete %q. Proceed?", target),
	}
}
