// Package toolcall implements the Tool-Call Extractor of spec.md §4.5: a
// pure function from an answer-text buffer to a list of extracted OpenAI
// tool_calls plus the buffer with the matched fragments removed. Grounded
// on the reference gateway's llm/internal/pkg/xjson safe-JSON helpers
// (jsonrepair fallback) and llm/transformer/anthropic/aggregator.go's
// pattern of normalizing loosely-shaped tool JSON into the OpenAI
// ToolCall{ID, Type, Function{Name, Arguments}} shape.
package toolcall

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2/v2"
	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/openrelay/k2think-proxy/internal/openai"
)

// Options configures extraction (spec.md §4.5 "Scan limits", "Normalization").
type Options struct {
	ScanLimit  int
	ToolNames  []string
	ToolChoice string
}

// rawCall is the loosely-typed shape both {name, arguments} and the fenced
// envelope forms decode into before normalization.
type rawCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

var fencedJSON = regexp2.MustCompile("```json\\s*\\n?([\\s\\S]*?)```", regexp2.None)

// naturalLanguage matches spec.md §4.5 form 4: "call <name> with {...}".
// Word-character name capture, case-insensitive, tail parsed separately as JSON
// since the brace content itself may nest braces that a regex cannot balance.
var naturalLanguage = regexp2.MustCompile(`call\s+(\w+)\s+with\s+(\{)`, regexp2.IgnoreCase)

// Extract scans text (limited to the trailing opts.ScanLimit bytes) for tool
// call JSON, returning the normalized calls in discovery order and the
// remaining text with matched fragments removed and whitespace trimmed
// (spec.md §4.5 "Text removal").
func Extract(text string, opts Options) ([]openai.ToolCall, string) {
	limit := opts.ScanLimit
	if limit <= 0 {
		limit = 200000
	}

	head := ""
	scanned := text

	if len(text) > limit {
		head = text[:len(text)-limit]
		scanned = text[len(text)-limit:]
	}

	calls, remainder := extractFromFenced(scanned, opts)
	if calls == nil {
		calls, remainder = extractFromInline(scanned, opts)
	}

	if calls == nil {
		calls, remainder = extractFromNaturalLanguage(scanned, opts)
	}

	if calls == nil {
		return nil, text
	}

	full := strings.TrimSpace(head + remainder)

	return calls, full
}

// extractFromFenced recognizes forms 1 and 2: a ```json fenced block
// containing either an object with tool_calls/function_call/a bare
// {name,arguments} shape, or an array of {name,arguments} objects.
func extractFromFenced(text string, opts Options) ([]openai.ToolCall, string) {
	match, err := fencedJSON.FindStringMatch(text)
	if err != nil || match == nil {
		return nil, ""
	}

	body := match.GroupByNumber(1).String()
	repaired := repairIfNeeded(body)

	if calls, ok := decodeObjectForm(repaired, opts); ok {
		return calls, text[:match.Index] + text[match.Index+match.Length:]
	}

	if calls, ok := decodeArrayForm(repaired, opts); ok {
		return calls, text[:match.Index] + text[match.Index+match.Length:]
	}

	return nil, ""
}

// extractFromInline recognizes form 3: an inline balanced-brace JSON object
// anywhere in the text, tried shape-by-shape the same way as the fenced form.
func extractFromInline(text string, opts Options) ([]openai.ToolCall, string) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}

		end := findBalancedBrace(text, start)
		if end < 0 {
			continue
		}

		candidate := text[start : end+1]
		repaired := repairIfNeeded(candidate)

		if calls, ok := decodeObjectForm(repaired, opts); ok {
			return calls, text[:start] + text[end+1:]
		}
	}

	return nil, ""
}

// extractFromNaturalLanguage recognizes form 4: "call <name> with {...}",
// where the brace tail is parsed with findBalancedBrace rather than the
// regex, since regex alternation cannot count nested braces.
func extractFromNaturalLanguage(text string, opts Options) ([]openai.ToolCall, string) {
	match, err := naturalLanguage.FindStringMatch(text)
	if err != nil || match == nil {
		return nil, ""
	}

	name := match.GroupByNumber(1).String()
	braceStart := match.Index + match.Length - 1

	end := findBalancedBrace(text, braceStart)
	if end < 0 {
		return nil, ""
	}

	argsText := text[braceStart : end+1]
	repaired := repairIfNeeded(argsText)

	if !json.Valid([]byte(repaired)) {
		return nil, ""
	}

	call, ok := normalizeCall(rawCall{Name: name, Arguments: json.RawMessage(repaired)}, opts, 0)
	if !ok {
		return nil, ""
	}

	return []openai.ToolCall{call}, text[:match.Index] + text[end+1:]
}

func decodeObjectForm(body string, opts Options) ([]openai.ToolCall, bool) {
	if !gjson.Valid(body) {
		return nil, false
	}

	root := gjson.Parse(body)

	if arr := root.Get("tool_calls"); arr.Exists() && arr.IsArray() {
		return decodeCallArray(arr, opts), true
	}

	if fc := root.Get("function_call"); fc.Exists() && fc.IsObject() {
		return decodeSingleCall(fc, opts)
	}

	nameField := root.Get("name")
	if nameField.Exists() && isDeclaredTool(nameField.String(), opts.ToolNames) {
		return decodeSingleCall(root, opts)
	}

	return nil, false
}

func decodeArrayForm(body string, opts Options) ([]openai.ToolCall, bool) {
	if !gjson.Valid(body) {
		return nil, false
	}

	root := gjson.Parse(body)
	if !root.IsArray() {
		return nil, false
	}

	calls := decodeCallArray(root, opts)
	if len(calls) == 0 {
		return nil, false
	}

	return calls, true
}

func decodeCallArray(arr gjson.Result, opts Options) []openai.ToolCall {
	var calls []openai.ToolCall

	for _, item := range arr.Array() {
		if call, ok := normalizeCall(rawCall{
			Name:      item.Get("name").String(),
			Arguments: json.RawMessage(item.Get("arguments").Raw),
		}, opts, len(calls)); ok {
			calls = append(calls, call)
		}
	}

	return calls
}

func decodeSingleCall(obj gjson.Result, opts Options) ([]openai.ToolCall, bool) {
	call, ok := normalizeCall(rawCall{
		Name:      obj.Get("name").String(),
		Arguments: json.RawMessage(obj.Get("arguments").Raw),
	}, opts, 0)
	if !ok {
		return nil, false
	}

	return []openai.ToolCall{call}, true
}

// normalizeCall converts a loosely-typed call into the OpenAI shape,
// discarding calls whose name is not declared unless tool_choice is "auto"
// (spec.md §4.5 "Normalization"), and re-serializing arguments to a JSON
// string via sjson rather than round-tripping through map[string]any.
func normalizeCall(raw rawCall, opts Options, seq int) (openai.ToolCall, bool) {
	if raw.Name == "" {
		return openai.ToolCall{}, false
	}

	if !isDeclaredTool(raw.Name, opts.ToolNames) && opts.ToolChoice != "auto" {
		return openai.ToolCall{}, false
	}

	argsJSON := strings.TrimSpace(string(raw.Arguments))
	if argsJSON == "" {
		argsJSON = "{}"
	}

	if !json.Valid([]byte(argsJSON)) {
		if repaired, err := jsonrepair.JSONRepair(argsJSON); err == nil && json.Valid([]byte(repaired)) {
			argsJSON = repaired
		} else {
			argsJSON = "{}"
		}
	}

	compact, err := sjson.SetRawBytes(nil, "args", []byte(argsJSON))
	if err != nil {
		return openai.ToolCall{}, false
	}

	argsString := gjson.GetBytes(compact, "args").Raw

	return openai.ToolCall{
		ID:   idFor(seq),
		Type: "function",
		Function: openai.ToolCallFunction{
			Name:      raw.Name,
			Arguments: argsString,
		},
	}, true
}

func idFor(seq int) string {
	return "call_" + strconv.Itoa(seq)
}

func isDeclaredTool(name string, declared []string) bool {
	for _, d := range declared {
		if d == name {
			return true
		}
	}

	return false
}

func repairIfNeeded(s string) string {
	s = strings.TrimSpace(s)
	if json.Valid([]byte(s)) {
		return s
	}

	if repaired, err := jsonrepair.JSONRepair(s); err == nil {
		return repaired
	}

	return s
}

// findBalancedBrace returns the index of the closing brace matching the
// opening brace at start, honoring string literals so braces inside a
// quoted argument value do not unbalance the scan, or -1 if unbalanced.
func findBalancedBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}

			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}

	return -1
}
