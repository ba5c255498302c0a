// stream.go drains the upstream SSE event stream through the Translator and
// either forwards it live as SSE (client stream:true) or buffers it into a
// single completion (client stream:false); spec.md §4.4 decodes the
// upstream as an event stream in both cases, branching only here. Grounded
// on the reference gateway's WriteSSEStream (internal/server/api/chat.go):
// same ctx.Done/Flush loop, with client disconnect observed through the
// request context rather than CloseNotify, adapted to write raw "data: " lines
// instead of gin's named-event SSEvent helper, since OpenAI's wire format
// carries no event name.
package dispatcher

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/openrelay/k2think-proxy/internal/log"
	"github.com/openrelay/k2think-proxy/internal/translator"
	"github.com/openrelay/k2think-proxy/internal/upstreamclient"
)

// deltaContent extracts choices[0].delta.content from one upstream SSE
// event body. A non-JSON or shapeless event yields "", which the Translator
// harmlessly treats as an empty feed.
func deltaContent(data []byte) (string, bool) {
	if string(data) == "[DONE]" {
		return "", false
	}

	result := gjson.GetBytes(data, "choices.0.delta.content")

	return result.String(), true
}

func writeSSEStream(c *gin.Context, result *upstreamclient.ChatResult, tr *translator.Translator) {
	ctx := c.Request.Context()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	writeChunk := func(chunk any) bool {
		payload, err := json.Marshal(chunk)
		if err != nil {
			log.Error(ctx, "failed to marshal stream chunk", log.Cause(err))
			return false
		}

		fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		c.Writer.Flush()

		return true
	}

	for {
		select {
		case <-ctx.Done():
			log.Warn(ctx, "client disconnected mid-stream")
			return
		default:
		}

		if !result.Stream.Next() {
			break
		}

		content, ok := deltaContent(result.Stream.Current().Data)
		if !ok {
			break
		}

		for _, chunk := range tr.FeedDelta(content) {
			if !writeChunk(chunk) {
				return
			}
		}
	}

	streamErr := result.Stream.Err()
	if streamErr != nil {
		log.Warn(ctx, "upstream stream ended with error", log.Cause(streamErr))
	}

	for _, chunk := range tr.FinishStream(streamErr) {
		if !writeChunk(chunk) {
			return
		}
	}

	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

// drainNonStream pulls the entire upstream event stream through the
// Translator without emitting anything to the client; the caller then
// renders tr.FinishNonStream() as a single JSON body (spec.md §4.4
// "Non-streaming emission").
func drainNonStream(result *upstreamclient.ChatResult, tr *translator.Translator) error {
	for result.Stream.Next() {
		content, ok := deltaContent(result.Stream.Current().Data)
		if !ok {
			break
		}

		tr.FeedDelta(content)
	}

	return result.Stream.Err()
}
