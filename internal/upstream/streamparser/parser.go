// Package streamparser turns an upstream SSE response body into a sequence
// of thinking/content/done chunks, per spec.md §4.D. It understands two wire
// shapes: the upstream-native {type:"chat:completion", data:{..., phase}}
// frames, which carry an explicit phase, and plain OpenAI-style
// choices[].delta.content frames, which fold thinking into the content
// stream as <think>/<details> tags.
package streamparser

import (
	"bufio"
	"encoding/json"
	"io"
	"regexp"
	"strings"
)

// Kind identifies what a Chunk carries.
type Kind int

const (
	KindThinking Kind = iota
	KindThinkingEnd
	KindContent
	KindDone
	KindError
)

// Chunk is one unit handed back to the caller, in emission order.
type Chunk struct {
	Kind   Kind
	Text   string
	Reason string
}

type phase int

const (
	phaseContent phase = iota
	phaseThinking
)

// maxTagBuf bounds how long the parser will hold an unterminated "<...>"
// before giving up on it being a tag and flushing it as literal text — a
// malformed or truncated upstream frame must never stall the pipeline.
const maxTagBuf = 64

// dedupeThreshold is the minimum length a completed thinking segment must
// have before a new segment is checked for being a verbatim replay of it.
const dedupeThreshold = 50

// contentLeakBufferSize is how much content text the parser holds before
// scanning it for a leaked thinking block and flushing, per spec.md §4.D's
// "limited-lookahead" content scrub.
const contentLeakBufferSize = 4096

// Parser holds the running state of one SSE stream. It is not safe for
// concurrent use; one Parser belongs to exactly one in-flight request.
type Parser struct {
	ph phase

	inTag  bool
	tagBuf strings.Builder

	thinkingBuf  strings.Builder
	lastThinking string

	contentBuf strings.Builder

	done bool
}

// New returns a Parser ready to consume one stream from its start.
func New() *Parser {
	return &Parser{}
}

// Run reads SSE "data: ..." lines from r and invokes emit, in order, for
// every chunk the stream yields. It returns once a done/error chunk has
// been emitted or r reaches EOF.
func (p *Parser) Run(r io.Reader, emit func(Chunk)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			p.finalize(emit)
			p.emitDone(emit)
			return
		}
		p.handlePayload(payload, emit)
		if p.done {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		emit(Chunk{Kind: KindError, Reason: err.Error()})
		return
	}

	p.finalize(emit)
	p.emitDone(emit)
}

func (p *Parser) emitDone(emit func(Chunk)) {
	if p.done {
		return
	}
	p.done = true
	emit(Chunk{Kind: KindDone})
}

type nativePayload struct {
	Type string `json:"type"`
	Data struct {
		DeltaContent string `json:"delta_content"`
		Content      string `json:"content"`
		EditContent  string `json:"edit_content"`
		Phase        string `json:"phase"`
	} `json:"data"`
}

type openAIPayload struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (p *Parser) handlePayload(payload string, emit func(Chunk)) {
	var native nativePayload
	if err := json.Unmarshal([]byte(payload), &native); err == nil && native.Type == "chat:completion" {
		text := firstNonEmpty(native.Data.DeltaContent, native.Data.Content, native.Data.EditContent)
		p.handleNative(text, native.Data.Phase, emit)
		return
	}

	var oai openAIPayload
	if err := json.Unmarshal([]byte(payload), &oai); err == nil && len(oai.Choices) > 0 {
		choice := oai.Choices[0]
		p.handleTagged(choice.Delta.Content, emit)
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			p.finalize(emit)
			p.emitDone(emit)
		}
		return
	}

	// Unrecognized frame shape (keepalive/comment/ping); ignored.
}

func (p *Parser) handleNative(text, framePhase string, emit func(Chunk)) {
	switch framePhase {
	case "thinking":
		if p.ph == phaseContent {
			p.ph = phaseThinking
			p.thinkingBuf.Reset()
		}
		p.thinkingBuf.WriteString(text)
	case "answer", "other":
		p.endThinkingIfNeeded(emit)
		p.emitContent(text, emit)
	case "done":
		p.finalize(emit)
		p.emitDone(emit)
	default:
		if p.ph == phaseThinking {
			p.thinkingBuf.WriteString(text)
		} else {
			p.emitContent(text, emit)
		}
	}
}

func (p *Parser) handleTagged(text string, emit func(Chunk)) {
	for _, r := range text {
		if p.inTag {
			p.tagBuf.WriteRune(r)
			if r == '>' {
				p.consumeTag(p.tagBuf.String(), emit)
				p.tagBuf.Reset()
				p.inTag = false
				continue
			}
			if p.tagBuf.Len() > maxTagBuf {
				literal := p.tagBuf.String()
				p.tagBuf.Reset()
				p.inTag = false
				p.appendPlain(literal, emit)
			}
			continue
		}

		if r == '<' {
			p.inTag = true
			p.tagBuf.Reset()
			p.tagBuf.WriteRune(r)
			continue
		}
		p.appendPlain(string(r), emit)
	}
}

func (p *Parser) appendPlain(s string, emit func(Chunk)) {
	if p.ph == phaseThinking {
		p.thinkingBuf.WriteString(s)
		return
	}
	p.emitContent(s, emit)
}

func (p *Parser) consumeTag(tag string, emit func(Chunk)) {
	name, closing := tagName(tag)
	switch name {
	case "think", "details":
		if closing {
			p.endThinkingIfNeeded(emit)
		} else if p.ph == phaseContent {
			p.ph = phaseThinking
			p.thinkingBuf.Reset()
		}
	default:
		p.appendPlain(tag, emit)
	}
}

func tagName(tag string) (name string, closing bool) {
	t := strings.Trim(tag, "<>")
	closing = strings.HasPrefix(t, "/")
	t = strings.TrimPrefix(t, "/")
	if i := strings.IndexAny(t, " \t\n"); i >= 0 {
		t = t[:i]
	}
	return strings.ToLower(t), closing
}

func (p *Parser) endThinkingIfNeeded(emit func(Chunk)) {
	if p.ph != phaseThinking {
		return
	}
	p.completeThinking(emit)
	p.ph = phaseContent
}

var thinkTagStripRe = regexp.MustCompile(`</?(?:think|details)[^>]*>`)

func sanitizeThinking(s string) string {
	s = thinkTagStripRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, `true">`, "")
	return strings.TrimSpace(s)
}

// completeThinking flushes the segment accumulated so far: sanitizes it,
// drops it if it is a verbatim replay of the last completed segment (the
// upstream sometimes restreams an entire thinking block from scratch after a
// tool round-trip), then always emits a thinking_end marker.
func (p *Parser) completeThinking(emit func(Chunk)) {
	text := sanitizeThinking(p.thinkingBuf.String())
	p.thinkingBuf.Reset()

	out := strings.TrimSpace(dedupeThinking(text, p.lastThinking))
	if out != "" {
		emit(Chunk{Kind: KindThinking, Text: out})
	}
	emit(Chunk{Kind: KindThinkingEnd})
	if text != "" {
		p.lastThinking = text
	}
}

// dedupeThinking returns the part of curr that is genuinely new relative to
// last: a full or partial verbatim prefix match against a substantial (>50
// char) previous segment is suppressed; anything diverging or beyond the
// overlap is kept.
func dedupeThinking(curr, last string) string {
	if len(last) <= dedupeThreshold || curr == "" {
		return curr
	}
	if len(curr) >= len(last) {
		if curr[:len(last)] == last {
			return curr[len(last):]
		}
		return curr
	}
	if last[:len(curr)] == curr {
		return ""
	}
	return curr
}

var leakHeadingRe = regexp.MustCompile(`(?ism)(?:thought process|thinking)\s*:?\s*\n(?:^>[^\n]*\n?)+`)

func scrubLeakedThinking(s, lastThinking string) string {
	s = leakHeadingRe.ReplaceAllString(s, "")
	if lastThinking != "" && strings.Contains(s, lastThinking) {
		s = strings.Replace(s, lastThinking, "", 1)
	}
	return s
}

// emitContent buffers content text up to contentLeakBufferSize so a leaked
// thinking block straddling several frames can still be scrubbed before the
// caller ever sees it.
func (p *Parser) emitContent(text string, emit func(Chunk)) {
	p.contentBuf.WriteString(text)
	if p.contentBuf.Len() < contentLeakBufferSize {
		return
	}
	p.flushContentBuf(emit)
}

func (p *Parser) flushContentBuf(emit func(Chunk)) {
	if p.contentBuf.Len() == 0 {
		return
	}
	out := scrubLeakedThinking(p.contentBuf.String(), p.lastThinking)
	p.contentBuf.Reset()
	if out != "" {
		emit(Chunk{Kind: KindContent, Text: out})
	}
}

// finalize flushes whatever is still buffered — an in-progress thinking
// segment (the upstream closed the stream without a closing tag/phase) and
// any pending content — in that order.
func (p *Parser) finalize(emit func(Chunk)) {
	if p.ph == phaseThinking {
		p.completeThinking(emit)
		p.ph = phaseContent
	}
	p.flushContentBuf(emit)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
