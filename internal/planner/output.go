// Package planner builds the system prompt a planning turn uses and parses
// its structured JSON response back into actions, per spec.md §4.G/§4.H.
package planner

import (
	"encoding/json"
	"fmt"
)

// ActionSafety carries the planner's own risk self-assessment for an action.
type ActionSafety struct {
	Risk  string `json:"risk,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// Action is one tool invocation the plan calls for, plus the planner's
// reasoning about why it's needed, what it expects to happen, and how
// risky it judges the call to be.
type Action struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Why    string         `json:"why,omitempty"`
	Expect string         `json:"expect,omitempty"`
	Safety *ActionSafety  `json:"safety,omitempty"`
}

// Output is the full structured response one planning turn produces: a plan
// summary, zero or more actions to take, a final answer once the plan is
// complete, and the planner's working thought.
type Output struct {
	Plan    string   `json:"plan,omitempty"`
	Actions []Action `json:"actions,omitempty"`
	Final   string   `json:"final,omitempty"`
	Thought string   `json:"thought,omitempty"`
	Done    bool     `json:"done,omitempty"`
}

// ParseError reports which stage of the strict→lenient→scan-recovery chain
// the input failed at.
type ParseError struct {
	Stage string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("planner output parse failed at %s: %v", e.Stage, e.Cause)
}
func (e *ParseError) Unwrap() error { return e.Cause }

// ParseOutput decodes raw into an Output using three progressively more
// forgiving passes: a strict json.Unmarshal of the trimmed input, a lenient
// pass that first strips a markdown code fence, and a scan-based recovery
// pass that extracts the first brace-balanced object from surrounding prose.
// If every pass fails and coerce is true, the raw text itself becomes a
// Done answer rather than surfacing a parse error to the caller.
func ParseOutput(raw string, coerce bool) (Output, error) {
	if out, err := parseStrict(raw); err == nil {
		return out, nil
	}

	lenient := stripCodeFence(raw)
	if out, err := parseStrict(lenient); err == nil {
		return out, nil
	}

	if obj, ok := extractBalancedObject(lenient); ok {
		if out, err := parseStrict(obj); err == nil {
			return out, nil
		}
	}

	if coerce {
		return Output{Final: raw, Done: true}, nil
	}
	return Output{}, &ParseError{Stage: "scan_recovery", Cause: fmt.Errorf("no valid JSON object found")}
}

// rawOutputWire mirrors Output's own fields plus the legacy "answer" key some
// model output still emits in place of "final" — both are accepted on the
// way in, but glmproxy only ever emits "final" in its own prompt examples.
type rawOutputWire struct {
	Plan    string   `json:"plan"`
	Actions []Action `json:"actions"`
	Final   string   `json:"final"`
	Answer  string   `json:"answer"`
	Thought string   `json:"thought"`
	Done    bool     `json:"done"`
}

func parseStrict(raw string) (Output, error) {
	var ro rawOutputWire
	if err := json.Unmarshal([]byte(raw), &ro); err != nil {
		return Output{}, err
	}
	if ro.Plan == "" && ro.Actions == nil && ro.Final == "" && ro.Answer == "" && ro.Thought == "" && !ro.Done {
		return Output{}, fmt.Errorf("object carries no planner fields")
	}
	final := ro.Final
	if final == "" {
		final = ro.Answer
	}
	return Output{
		Plan:    ro.Plan,
		Actions: ro.Actions,
		Final:   final,
		Thought: ro.Thought,
		Done:    ro.Done,
	}, nil
}

// rawToolCall is the shape a model emits when it skips the PlannerOutput
// envelope entirely and answers with a bare OpenAI-style tool-call array.
type rawToolCall struct {
	Name      string          `json:"name"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	Args      json.RawMessage `json:"args"`
}

// ParseRawToolCalls attempts to recover a list of Actions from raw when it
// isn't a PlannerOutput at all but a raw tool-call array (or a single
// object), via the same strict→scan-recovery chain.
func ParseRawToolCalls(raw string) ([]Action, bool) {
	lenient := stripCodeFence(raw)

	if actions, ok := parseRawToolCallArray(lenient); ok {
		return actions, true
	}
	if arr, ok := extractBalancedArray(lenient); ok {
		if actions, ok := parseRawToolCallArray(arr); ok {
			return actions, true
		}
	}
	if obj, ok := extractBalancedObject(lenient); ok {
		if actions, ok := parseRawToolCallArray("[" + obj + "]"); ok {
			return actions, true
		}
	}
	return nil, false
}

func parseRawToolCallArray(raw string) ([]Action, bool) {
	var calls []rawToolCall
	if err := json.Unmarshal([]byte(raw), &calls); err != nil {
		return nil, false
	}
	if len(calls) == 0 {
		return nil, false
	}

	actions := make([]Action, 0, len(calls))
	for _, c := range calls {
		name := c.Name
		if name == "" {
			name = c.Tool
		}
		if name == "" {
			return nil, false
		}
		argsRaw := c.Arguments
		if len(argsRaw) == 0 {
			argsRaw = c.Args
		}
		var args map[string]any
		if len(argsRaw) > 0 {
			if err := json.Unmarshal(argsRaw, &args); err != nil {
				args = nil
			}
		}
		actions = append(actions, Action{Tool: name, Args: args})
	}
	return actions, true
}

// Coerce fills in an Output's minimum viable shape when upstream validation
// rejects it for being ambiguous: no actions and no answer is nudged into a
// "done with empty answer" terminal state rather than retried forever.
func Coerce(out Output) Output {
	if len(out.Actions) == 0 && out.Final == "" {
		out.Done = true
	}
	return out
}
