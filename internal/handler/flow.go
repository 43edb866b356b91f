package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/confirm"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/contextcompactor"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/guard"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/heuristics"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/openai"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/planner"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/upstream"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/upstream/streamparser"
)

// drainConfirmation resolves a tool-result message against a live
// PendingConfirmation, per spec.md §4.L step 2. It reports whether it fully
// handled the response (affirmative replay or decline message) — the caller
// must return immediately when true.
func (rt *requestTurn) drainConfirmation(w http.ResponseWriter) bool {
	pending, ok := rt.h.Confirm.Take(rt.lastToolCallID)
	if !ok {
		return false
	}

	last := rt.req.Messages[len(rt.req.Messages)-1]
	if !isAffirmative(last.Content) {
		writeContentResponse(w, rt.req.Model, "Cancelled.", "stop", rt.req.Stream)
		return true
	}

	name, args := rt.registry.Finalize(pending.Action.Tool, pending.Action.Args)
	call := newToolCall(name, args)
	toolCallsResponse(w, rt.req.Model, []openai.ToolCall{call}, rt.req.Stream)
	return true
}

// toGuardAction canonicalizes a tool name and raw args the planner, a raw
// tool call, or a heuristic proposed against the request's declared tool
// registry, so Guards always evaluate stable canonical keys regardless of
// which synonym the model actually used, per spec.md §4.F.
func (rt *requestTurn) toGuardAction(tool string, args map[string]any, source string) guard.Action {
	c := rt.registry.Canonicalize(tool, args)
	return guard.Action{Tool: c.Tool, Args: c.Args, DeclaredArgKeys: c.DeclaredArgKeys, Source: source}
}

func toUpstreamMessages(compacted []contextcompactor.Message) []upstream.Message {
	out := make([]upstream.Message, len(compacted))
	for i, m := range compacted {
		out[i] = upstream.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

const postToolSystemReminder = "Continue the task. Respond only with the planner JSON schema described above: either further actions or a final answer."

// runNoToolFlow handles a turn with no tools declared: plain upstream
// passthrough, streamed or accumulated.
func (rt *requestTurn) runNoToolFlow(w http.ResponseWriter, compacted []contextcompactor.Message) {
	upstreamMsgs := toUpstreamMessages(compacted)
	in := upstream.SendMessageInput{
		ChatID:         rt.h.Session.Snapshot().ActiveChatID,
		Messages:       upstreamMsgs,
		Model:          rt.req.Model,
		Stream:         true,
		EnableThinking: rt.enableThinking,
	}

	if !rt.req.Stream {
		content, _, errReason := accumulateUpstream(rt.ctx, rt.h.Upstream, in)
		if errReason != "" {
			writeContentResponse(w, rt.req.Model, "Error: "+errReason, "stop", false)
			return
		}
		writeContentResponse(w, rt.req.Model, content, "stop", false)
		return
	}

	sw := newSSEWriter(w)
	id := "chatcmpl-" + rt.reqID
	created := nowUnix()
	roleSent := false
	emitRole := func() {
		if roleSent {
			return
		}
		sw.writeChunk(openai.ChatCompletionChunk{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: rt.req.Model,
			Choices: []openai.ChunkChoice{{Index: 0, Delta: openai.Delta{Role: "assistant"}}},
		})
		roleSent = true
	}
	_ = rt.h.Upstream.SendMessage(rt.ctx, in, func(chunk streamparser.Chunk) {
		emitRole()
		switch chunk.Kind {
		case streamparser.KindContent:
			if chunk.Text != "" {
				sw.writeChunk(openai.ChatCompletionChunk{
					ID: id, Object: "chat.completion.chunk", Created: created, Model: rt.req.Model,
					Choices: []openai.ChunkChoice{{Index: 0, Delta: openai.Delta{Content: chunk.Text}}},
				})
			}
		case streamparser.KindThinking:
			if chunk.Text != "" {
				sw.writeChunk(openai.ChatCompletionChunk{
					ID: id, Object: "chat.completion.chunk", Created: created, Model: rt.req.Model,
					Choices: []openai.ChunkChoice{{Index: 0, Delta: openai.Delta{ReasoningContent: chunk.Text}}},
				})
			}
		case streamparser.KindError:
			sw.writeChunk(openai.ChatCompletionChunk{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: rt.req.Model,
				Choices: []openai.ChunkChoice{{Index: 0, Delta: openai.Delta{Content: "Error: " + chunk.Reason}}},
			})
		}
	})
	stop := "stop"
	sw.writeChunk(openai.ChatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: rt.req.Model,
		Choices: []openai.ChunkChoice{{Index: 0, FinishReason: &stop}},
	})
	sw.done()
}

// runPlannerFlow handles a turn with tools declared, per spec.md §4.L
// step 9.
func (rt *requestTurn) runPlannerFlow(w http.ResponseWriter, compacted []contextcompactor.Message) {
	if rt.hasToolResult {
		compacted = append(compacted, contextcompactor.Message{Role: "system", Content: postToolSystemReminder})
	}

	if rt.h.Cfg.AllowUserHeuristics && !rt.hasToolResult {
		if act, ok := heuristics.Infer(rt.lastUserContent, rt.registry); ok {
			rt.dispatch(w, []guard.Action{rt.toGuardAction(act.Tool, act.Args, "heuristic")})
			return
		}
	}

	toolResultMsgCount := 0
	for _, m := range rt.req.Messages {
		if m.Role == "tool" {
			toolResultMsgCount++
		}
	}
	if rt.h.Cfg.ToolLoopLimit > 0 && toolResultMsgCount >= rt.h.Cfg.ToolLoopLimit {
		rt.runDirectAnswer(w, compacted)
		return
	}

	upstreamMsgs := toUpstreamMessages(compacted)
	attempts := rt.h.Cfg.PlannerMaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var parsed planner.Output
	var rawActions []planner.Action
	var parsedOK bool
	var errReason string
	var lastRaw string

	for i := 0; i < attempts; i++ {
		content, _, errR := accumulateUpstream(rt.ctx, rt.h.Upstream, upstream.SendMessageInput{
			ChatID:         rt.h.Session.Snapshot().ActiveChatID,
			Messages:       upstreamMsgs,
			Model:          rt.req.Model,
			EnableThinking: rt.enableThinking,
		})
		if errR != "" {
			errReason = errR
			break
		}
		lastRaw = content

		if out, err := planner.ParseOutput(content, false); err == nil {
			parsed = out
			parsedOK = true
			break
		}
		if acts, ok := planner.ParseRawToolCalls(content); ok {
			rawActions = acts
			break
		}
		upstreamMsgs = append(upstreamMsgs, upstream.Message{
			Role:    "system",
			Content: fmt.Sprintf("Your previous reply could not be parsed as the required JSON schema (attempt %d). Reply again with exactly one valid JSON object matching the schema.", i+1),
		})
	}

	if errReason != "" {
		writeContentResponse(w, rt.req.Model, "Error: "+errReason, "stop", rt.req.Stream)
		return
	}

	if rawActions != nil {
		rt.dispatchRaw(w, rawActions, compacted)
		return
	}

	if parsedOK {
		if len(parsed.Actions) > 0 {
			if reason, unknown := rt.firstUnknownTool(parsed.Actions); unknown {
				writeContentResponse(w, rt.req.Model, "Unknown tool: "+reason, "stop", rt.req.Stream)
				return
			}
			actions := make([]guard.Action, len(parsed.Actions))
			for i, a := range parsed.Actions {
				actions[i] = rt.toGuardAction(a.Tool, a.Args, "planner")
			}
			actions = truncateMutationBoundary(actions)
			rt.dispatch(w, actions)
			return
		}

		if parsed.Final != "" {
			writeContentResponse(w, rt.req.Model, parsed.Final, "stop", rt.req.Stream)
			return
		}

		if rt.hasToolResult {
			rt.runRecoveryTurn(w, upstreamMsgs)
			return
		}

		if rt.h.Cfg.AllowUserHeuristics {
			if act, ok := heuristics.Infer(rt.lastUserContent, rt.registry); ok {
				rt.dispatch(w, []guard.Action{rt.toGuardAction(act.Tool, act.Args, "heuristic")})
				return
			}
		}
		rt.runDirectAnswer(w, compacted)
		return
	}

	if rt.h.Cfg.PlannerCoerce && lastRaw != "" {
		writeContentResponse(w, rt.req.Model, strings.TrimSpace(lastRaw), "stop", rt.req.Stream)
		return
	}

	writeContentResponse(w, rt.req.Model, "Unable to generate tool call.", "stop", rt.req.Stream)
}

// firstUnknownTool reports the name of the first planner action naming a
// tool the caller never declared (directly or via alias), so dispatch can
// fail fast instead of letting Guards evaluate a tool call Finalize could
// never map back to a real function name.
func (rt *requestTurn) firstUnknownTool(actions []planner.Action) (string, bool) {
	for _, a := range actions {
		if _, ok := rt.registry.Resolve(a.Tool); !ok {
			return a.Tool, true
		}
	}
	return "", false
}

// runRecoveryTurn asks the model once more to act, per spec.md §4.L step 9's
// "recovery turn"; if still empty it returns the documented neutral message.
func (rt *requestTurn) runRecoveryTurn(w http.ResponseWriter, upstreamMsgs []upstream.Message) {
	upstreamMsgs = append(upstreamMsgs, upstream.Message{
		Role:    "system",
		Content: "No actions were produced but a tool result is pending. Either issue further actions or provide a final answer, using the planner JSON schema.",
	})
	content, _, errReason := accumulateUpstream(rt.ctx, rt.h.Upstream, upstream.SendMessageInput{
		ChatID:         rt.h.Session.Snapshot().ActiveChatID,
		Messages:       upstreamMsgs,
		Model:          rt.req.Model,
		EnableThinking: rt.enableThinking,
	})
	if errReason != "" {
		writeContentResponse(w, rt.req.Model, "Error: "+errReason, "stop", rt.req.Stream)
		return
	}
	if out, err := planner.ParseOutput(content, false); err == nil {
		if len(out.Actions) > 0 {
			if reason, unknown := rt.firstUnknownTool(out.Actions); unknown {
				writeContentResponse(w, rt.req.Model, "Unknown tool: "+reason, "stop", rt.req.Stream)
				return
			}
			actions := make([]guard.Action, len(out.Actions))
			for i, a := range out.Actions {
				actions[i] = rt.toGuardAction(a.Tool, a.Args, "planner")
			}
			rt.dispatch(w, truncateMutationBoundary(actions))
			return
		}
		if out.Final != "" {
			writeContentResponse(w, rt.req.Model, out.Final, "stop", rt.req.Stream)
			return
		}
	}
	writeContentResponse(w, rt.req.Model, "No further actions were produced; task may require another explicit user prompt.", "stop", rt.req.Stream)
}

// runDirectAnswer asks the model for prose with no planner framing. It is
// used when the planner produced neither actions nor a final answer, when
// the tool-loop limit is reached, and when a repeated raw dispatch is
// suppressed.
func (rt *requestTurn) runDirectAnswer(w http.ResponseWriter, compacted []contextcompactor.Message) {
	upstreamMsgs := toUpstreamMessages(compacted)
	content, _, errReason := accumulateUpstream(rt.ctx, rt.h.Upstream, upstream.SendMessageInput{
		ChatID:         rt.h.Session.Snapshot().ActiveChatID,
		Messages:       upstreamMsgs,
		Model:          rt.req.Model,
		EnableThinking: rt.enableThinking,
	})
	if errReason != "" {
		writeContentResponse(w, rt.req.Model, "Error: "+errReason, "stop", rt.req.Stream)
		return
	}
	writeContentResponse(w, rt.req.Model, strings.TrimSpace(content), "stop", rt.req.Stream)
}

// dispatchRaw applies the raw-tool-call dedup state machine (spec.md §4.L's
// "raw dispatch guard") before handing the batch to Guards.
func (rt *requestTurn) dispatchRaw(w http.ResponseWriter, raw []planner.Action, compacted []contextcompactor.Message) {
	var sb strings.Builder
	for _, a := range raw {
		sb.WriteString(stableActionSignature(a.Tool, a.Args))
		sb.WriteByte('\n')
	}
	sig := sb.String()

	if rt.hasToolResult && rt.h.Session.IsRepeatRawDispatch(sig, rt.lastUserContent) {
		rt.runDirectAnswer(w, compacted)
		return
	}
	rt.h.Session.RecordRawDispatch(sig, rt.lastUserContent)

	actions := make([]guard.Action, len(raw))
	for i, a := range raw {
		actions[i] = rt.toGuardAction(a.Tool, a.Args, "raw")
	}
	rt.dispatch(w, truncateMutationBoundary(actions))
}

// truncateMutationBoundary enforces spec.md §4.J's mutation-boundary rule:
// an accepted batch containing any mutating action is truncated to just its
// first mutation.
func truncateMutationBoundary(actions []guard.Action) []guard.Action {
	for _, a := range actions {
		if guard.IsMutatingTool(a.Tool) {
			return []guard.Action{a}
		}
	}
	return actions
}

// dispatch runs actions through Guards and emits the resulting response.
func (rt *requestTurn) dispatch(w http.ResponseWriter, actions []guard.Action) {
	outcomes, err := guard.Evaluate(guard.Config{
		MaxActionsPerTurn:      rt.h.Cfg.MaxActionsPerTurn,
		AllowNetwork:           rt.h.Cfg.AllowNetwork,
		AllowWebSearch:         rt.h.Cfg.AllowWebSearch,
		AllowAnyCommand:        rt.h.Cfg.AllowAnyCommand,
		WorkspaceRoots:         rt.h.Cfg.WorkspaceRoots,
		ConfirmDangerousCmds:   rt.h.Cfg.ConfirmDangerousCmds,
		AllowExplicitMutations: rt.h.Cfg.AllowExplicitMutations,
		AllowRawMutations:      rt.h.Cfg.AllowRawMutations,
	}, actions)
	if err != nil {
		offer := actions
		if rt.h.Cfg.MaxActionsPerTurn > 0 && len(offer) > rt.h.Cfg.MaxActionsPerTurn {
			offer = offer[:rt.h.Cfg.MaxActionsPerTurn]
		}
		rt.emitConfirmation(w, "too_many_actions", fmt.Sprintf("This turn proposes %d actions; only the first %d will run. Proceed?", len(actions), len(offer)), offer)
		return
	}

	var calls []openai.ToolCall
	for i, o := range outcomes {
		switch o.Status {
		case guard.StatusOK:
			args := o.RewrittenArgs
			if args == nil {
				args = actions[i].Args
			}
			name, finalArgs := rt.registry.Finalize(actions[i].Tool, args)
			calls = append(calls, newToolCall(name, finalArgs))
		case guard.StatusConfirmationRequired:
			rt.emitConfirmation(w, o.Reason, o.ConfirmQuestion, []guard.Action{actions[i]})
			return
		case guard.StatusBlocked:
			writeContentResponse(w, rt.req.Model, fmt.Sprintf("Blocked unsafe tool call (%s).", o.Reason), "stop", rt.req.Stream)
			return
		}
	}

	if len(calls) == 0 {
		writeContentResponse(w, rt.req.Model, "Blocked unsafe tool call (no_actions).", "stop", rt.req.Stream)
		return
	}

	toolCallsResponse(w, rt.req.Model, calls, rt.req.Stream)
}

// emitConfirmation parks action in the confirmation store and emits a
// synthesized "question" tool-call asking for the user's go-ahead.
func (rt *requestTurn) emitConfirmation(w http.ResponseWriter, reason, question string, actions []guard.Action) {
	if len(actions) == 0 {
		writeContentResponse(w, rt.req.Model, fmt.Sprintf("Blocked unsafe tool call (%s).", reason), "stop", rt.req.Stream)
		return
	}
	a := actions[0]
	id := rt.reqID + "-" + reason
	rt.h.Confirm.Put(id, question, confirm.Action{Tool: a.Tool, Args: a.Args})

	call := newToolCall("question", map[string]any{"question": question})
	call.ID = id
	toolCallsResponse(w, rt.req.Model, []openai.ToolCall{call}, rt.req.Stream)
}
