// Package translator implements the Response Translator of spec.md §4.4: it
// consumes the tagged text upstream embeds in each SSE delta (interleaved
// <think>...</think> and <answer>...</answer> spans) and turns it into a
// flat content stream, forwarding <think> delimiters to the client verbatim
// only when thinking output is enabled. Grounded on the reference gateway's
// streaming transform in llm/pipeline/stream.go, generalized from a single
// pass-through into a tag-aware state machine.
package translator

import "strings"

// tags lists the literal substrings that drive the parse state machine
// (spec.md §4.4 "Transitions driven by the literal substrings"), longest
// first so a complete-match check never stops at a shorter false positive.
var tags = []string{
	"</answer>",
	"<answer>",
	"</think>",
	"<think>",
}

// maxTagLen is the length of the longest tag; the look-behind buffer never
// needs to hold more than maxTagLen-1 undecided bytes, since any byte past
// that point would make the buffer longer than every tag and force a flush.
const maxTagLen = len("</answer>")

// Parser is the byte-level state machine of spec.md §4.4. It is not safe
// for concurrent use; one Parser serves one in-flight response.
type Parser struct {
	outputThinking bool
	inThink        bool
	pending        []byte
}

// NewParser constructs a Parser. outputThinking matches the request-scoped
// option of the same name (spec.md §4.4 "Options").
func NewParser(outputThinking bool) *Parser {
	return &Parser{outputThinking: outputThinking}
}

// Feed consumes one chunk of upstream delta.content and returns the text
// that should be appended to the client-facing content stream: tag
// delimiters are stripped except that <think>/</think> are re-emitted
// literally when outputThinking is true (spec.md §4.4 "release to the
// thinking stream wrapped so the client sees literal delimiters").
func (p *Parser) Feed(chunk string) string {
	var out strings.Builder

	for i := 0; i < len(chunk); i++ {
		p.pending = append(p.pending, chunk[i])
		p.drain(&out)
	}

	return out.String()
}

// drain consumes p.pending until it holds either nothing, a complete tag
// (handled and cleared), or an undecided proper prefix of some tag (left in
// place to be completed by a later Feed call).
func (p *Parser) drain(out *strings.Builder) {
	for {
		if tag, ok := completeTag(p.pending); ok {
			p.handleTag(tag, out)
			p.pending = p.pending[:0]

			return
		}

		if len(p.pending) == 0 || isTagPrefix(p.pending) {
			return
		}

		p.emit(p.pending[0], out)
		p.pending = p.pending[1:]
	}
}

func completeTag(buf []byte) (string, bool) {
	for _, t := range tags {
		if string(buf) == t {
			return t, true
		}
	}

	return "", false
}

func isTagPrefix(buf []byte) bool {
	for _, t := range tags {
		if len(buf) < len(t) && strings.HasPrefix(t, string(buf)) {
			return true
		}
	}

	return false
}

func (p *Parser) handleTag(tag string, out *strings.Builder) {
	switch tag {
	case "<think>":
		if p.outputThinking {
			out.WriteString("<think>")
		}

		p.inThink = true
	case "</think>":
		if p.outputThinking {
			out.WriteString("</think>")
		}

		p.inThink = false
	case "<answer>", "</answer>":
		// Transparent: OUTSIDE and IN_ANSWER emit identically, so no state
		// change is observable here.
	}
}

func (p *Parser) emit(b byte, out *strings.Builder) {
	if p.inThink && !p.outputThinking {
		return
	}

	out.WriteByte(b)
}

// Finish flushes any undecided look-behind bytes as literal content (an
// unterminated partial tag was never a tag) and permissively closes an
// still-open <think> span, per spec.md §4.4 "Terminal: end-of-stream. Any
// unterminated tag is treated as if closed at end-of-stream (permissive)."
func (p *Parser) Finish() string {
	var out strings.Builder

	for _, b := range p.pending {
		p.emit(b, &out)
	}

	p.pending = p.pending[:0]

	if p.inThink {
		if p.outputThinking {
			out.WriteString("</think>")
		}

		p.inThink = false
	}

	return out.String()
}
