// response.go assembles the Parser's decoded content into the OpenAI chunk
// and completion-object shapes of spec.md §4.4, and performs the tool-call
// handoff of §4.4/§4.5.
package translator

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openrelay/k2think-proxy/internal/apperr"
	"github.com/openrelay/k2think-proxy/internal/openai"
	"github.com/openrelay/k2think-proxy/internal/toolcall"
)

// Options configures a Translator for one response (spec.md §4.4 "Options").
type Options struct {
	Model          string
	OutputThinking bool
	ToolSupport    bool
	Tools          []openai.Tool
	ToolChoice     string
	ScanLimit      int
	PromptText     string
}

// Translator drives one in-flight response: it owns the Parser and
// accumulates enough state (the full answer text) to perform the end-of-
// stream tool-call handoff, regardless of whether the caller is assembling
// chunks incrementally or a single completion object.
type Translator struct {
	opts    Options
	parser  *Parser
	id      string
	created int64
	content strings.Builder
	seq     int
}

// New constructs a Translator. now is injected by the caller (spec.md's
// ambient-stack section keeps all wall-clock reads at the edges) so the
// same value can be reused across created-timestamp fields.
func New(opts Options, now time.Time) *Translator {
	return &Translator{
		opts:    opts,
		parser:  NewParser(opts.OutputThinking),
		id:      "chatcmpl-" + uuid.NewString(),
		created: now.Unix(),
	}
}

// FeedDelta processes one upstream delta.content fragment and returns the
// OpenAI chunk(s) the dispatcher should forward immediately (spec.md §4.4
// "Streaming emission"). The returned slice is empty when the fragment
// produced no visible content (e.g. it was entirely a tag).
func (t *Translator) FeedDelta(delta string) []openai.ChatCompletionChunk {
	text := t.parser.Feed(delta)
	if text == "" {
		return nil
	}

	t.content.WriteString(text)

	return []openai.ChatCompletionChunk{t.contentChunk(text)}
}

func (t *Translator) contentChunk(text string) openai.ChatCompletionChunk {
	delta := openai.Delta{Content: text}
	if t.seq == 0 {
		delta.Role = openai.RoleAssistant
	}

	t.seq++

	return openai.ChatCompletionChunk{
		ID:      t.id,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.opts.Model,
		Choices: []openai.ChunkChoice{{Index: 0, Delta: delta}},
	}
}

// FinishStream flushes any look-behind bytes, runs the tool-call handoff,
// and returns the final chunk the dispatcher appends before [DONE] (spec.md
// §4.4 "Final chunk carries finish_reason"). When streamErr is non-nil
// (the upstream stream ended early, spec.md §7 "Propagation policy"), the
// final chunk still carries finish_reason "stop" but also carries an
// ErrorPayload describing the failure.
func (t *Translator) FinishStream(streamErr error) []openai.ChatCompletionChunk {
	var chunks []openai.ChatCompletionChunk

	if tail := t.parser.Finish(); tail != "" {
		t.content.WriteString(tail)
		chunks = append(chunks, t.contentChunk(tail))
	}

	calls, finishReason := t.extractToolCalls()

	finalDelta := openai.Delta{}
	if len(calls) > 0 {
		finalDelta.ToolCalls = calls
	}

	fr := finishReason
	chunks = append(chunks, openai.ChatCompletionChunk{
		ID:      t.id,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.opts.Model,
		Choices: []openai.ChunkChoice{{Index: 0, Delta: finalDelta, FinishReason: &fr}},
		Error:   errorPayload(streamErr),
	})

	return chunks
}

// errorPayload converts a non-nil upstream stream error into the payload
// attached to a final streaming chunk (spec.md §7). Returns nil for a clean
// end of stream.
func errorPayload(err error) *openai.ErrorPayload {
	if err == nil {
		return nil
	}

	kind := apperr.KindUpstream
	if appErr, ok := apperr.As(err); ok {
		kind = appErr.Kind
	}

	return &openai.ErrorPayload{
		Message: err.Error(),
		Type:    string(kind),
		Code:    string(kind),
	}
}

// FinishNonStream buffers the full translated answer and returns one
// ChatCompletion object (spec.md §4.4 "Non-streaming emission"). Callers
// must not call FinishStream on the same Translator; use FeedDelta to
// accumulate and call this once at end-of-stream instead of FinishStream.
func (t *Translator) FinishNonStream() openai.ChatCompletion {
	if tail := t.parser.Finish(); tail != "" {
		t.content.WriteString(tail)
	}

	calls, finishReason := t.extractToolCalls()

	msg := openai.ChoiceMessage{
		Role:      openai.RoleAssistant,
		Content:   t.content.String(),
		ToolCalls: calls,
	}

	completionTokens := estimateTokens(t.content.String())
	promptTokens := estimateTokens(t.opts.PromptText)

	return openai.ChatCompletion{
		ID:      t.id,
		Object:  "chat.completion",
		Created: t.created,
		Model:   t.opts.Model,
		Choices: []openai.Choice{{Index: 0, Message: msg, FinishReason: finishReason}},
		Usage: openai.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
}

// extractToolCalls performs the handoff of spec.md §4.4: when tool support
// is enabled and the request declared tools, the accumulated answer text is
// handed to the Extractor and, on a match, replaces t.content with the
// extractor's remainder so the visible message.content excludes the call.
func (t *Translator) extractToolCalls() ([]openai.ToolCall, string) {
	if !t.opts.ToolSupport || len(t.opts.Tools) == 0 {
		return nil, "stop"
	}

	names := make([]string, len(t.opts.Tools))
	for i, tool := range t.opts.Tools {
		names[i] = tool.Function.Name
	}

	calls, remainder := toolcall.Extract(t.content.String(), toolcall.Options{
		ScanLimit:  t.opts.ScanLimit,
		ToolNames:  names,
		ToolChoice: t.opts.ToolChoice,
	})

	if len(calls) == 0 {
		return nil, "stop"
	}

	t.content.Reset()
	t.content.WriteString(remainder)

	return calls, "tool_calls"
}

// estimateTokens is the conservative word-count-like estimator of spec.md
// §4.4 ("prompt_tokens = word-count-like estimate... exactness is not
// required; monotonicity is"): count whitespace-delimited fields, which
// tracks actual token counts closely enough for accounting purposes without
// pulling in a model-specific tokenizer.
func estimateTokens(s string) int {
	return len(strings.Fields(s))
}
