// transform.go implements spec.md §4.3 "Request transformation": flattening
// polymorphic message content into plain text and, when tools are declared,
// synthesizing the system message that teaches the upstream model to emit
// tool-call JSON in free text, since the upstream has no structured tool
// field of its own.
package dispatcher

import (
	"fmt"
	"strings"

	"github.com/openrelay/k2think-proxy/internal/openai"
)

// flattenContent reduces a message's polymorphic content to a single string
// (spec.md §4.3 step 1): text parts are concatenated in order, image parts
// become a "[image: <uri>]" placeholder so the upstream still sees a
// well-formed prompt.
func flattenContent(c openai.MessageContent) string {
	if c.Parts == nil {
		return c.Text
	}

	var b strings.Builder

	for _, part := range c.Parts {
		switch part.Type {
		case "text":
			b.WriteString(part.Text)
		case "image_url":
			uri := ""
			if part.ImageURL != nil {
				uri = part.ImageURL.URL
			}

			fmt.Fprintf(&b, "[image: %s]", uri)
		default:
			fmt.Fprintf(&b, "[%s]", part.Type)
		}
	}

	return b.String()
}

// toolsSystemPrompt synthesizes the deterministic system message of spec.md
// §4.3 step 2, describing each declared tool and the two accepted emission
// forms. Deterministic formatting (stable field order, one tool per line)
// keeps the prompt byte-identical across requests with the same tool list,
// which matters for upstream-side prompt caching.
func toolsSystemPrompt(tools []openai.Tool) string {
	var b strings.Builder

	b.WriteString("You have access to the following tools. To call a tool, respond with a ")
	b.WriteString("fenced ```json code block containing either {\"tool_calls\":[{\"name\":...,")
	b.WriteString("\"arguments\":{...}}]} or {\"function_call\":{\"name\":...,\"arguments\":{...}}}.\n\n")

	for _, tool := range tools {
		fmt.Fprintf(&b, "- %s", tool.Function.Name)

		if tool.Function.Description != "" {
			fmt.Fprintf(&b, ": %s", tool.Function.Description)
		}

		if len(tool.Function.Parameters) > 0 {
			fmt.Fprintf(&b, "\n  parameters: %s", string(tool.Function.Parameters))
		}

		b.WriteString("\n")
	}

	return b.String()
}

// buildUpstreamMessages applies steps 1-2 of spec.md §4.3, returning the
// messages in the shape upstreamclient.ChatRequest expects.
func buildUpstreamMessages(req openai.ChatRequest, toolSupport bool) []map[string]any {
	messages := make([]map[string]any, 0, len(req.Messages)+1)

	if toolSupport && len(req.Tools) > 0 {
		messages = append(messages, map[string]any{
			"role":    openai.RoleSystem,
			"content": toolsSystemPrompt(req.Tools),
		})
	}

	for _, m := range req.Messages {
		messages = append(messages, map[string]any{
			"role":    m.Role,
			"content": flattenContent(m.Content),
		})
	}

	return messages
}

// promptText concatenates all input message text, used by the Translator's
// token-usage estimator (spec.md §4.4 "prompt_tokens").
func promptText(req openai.ChatRequest) string {
	var b strings.Builder

	for _, m := range req.Messages {
		b.WriteString(flattenContent(m.Content))
		b.WriteString(" ")
	}

	return b.String()
}
