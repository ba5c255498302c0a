package translator_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openrelay/k2think-proxy/internal/apperr"
	"github.com/openrelay/k2think-proxy/internal/openai"
	"github.com/openrelay/k2think-proxy/internal/translator"
)

func TestTranslator_StreamingFirstChunkSetsRole(t *testing.T) {
	tr := translator.New(translator.Options{Model: "k2-think"}, time.Unix(0, 0))

	chunks := tr.FeedDelta("<answer>Hello</answer>")
	require.Len(t, chunks, 1)
	require.Equal(t, openai.RoleAssistant, chunks[0].Choices[0].Delta.Role)
	require.Equal(t, "Hello", chunks[0].Choices[0].Delta.Content)

	final := tr.FinishStream(nil)
	require.Equal(t, "stop", *final[len(final)-1].Choices[0].FinishReason)
	require.Empty(t, final[len(final)-1].Choices[0].Delta.Content)
	require.Nil(t, final[len(final)-1].Error)
}

func TestTranslator_StreamingErrorAttachesErrorPayloadToFinalChunk(t *testing.T) {
	tr := translator.New(translator.Options{Model: "k2-think"}, time.Unix(0, 0))

	tr.FeedDelta("<answer>Hello")

	final := tr.FinishStream(apperr.UpstreamTimeout(errors.New("deadline exceeded")))
	last := final[len(final)-1]

	require.Equal(t, "stop", *last.Choices[0].FinishReason)
	require.NotNil(t, last.Error)
	require.Equal(t, string(apperr.KindUpstreamTimeout), last.Error.Type)
}

func TestTranslator_StreamingChunksShareStableID(t *testing.T) {
	tr := translator.New(translator.Options{Model: "k2-think"}, time.Unix(0, 0))

	c1 := tr.FeedDelta("<answer>The answer is")
	c2 := tr.FeedDelta(" 42</answer>")
	final := tr.FinishStream(nil)

	require.Equal(t, c1[0].ID, c2[0].ID)
	require.Equal(t, c1[0].ID, final[0].ID)
}

func TestTranslator_NonStreamingPlainText(t *testing.T) {
	tr := translator.New(translator.Options{Model: "gpt-4"}, time.Unix(0, 0))

	tr.FeedDelta("<answer>Hello</answer>")
	completion := tr.FinishNonStream()

	require.Equal(t, "Hello", completion.Choices[0].Message.Content)
	require.Equal(t, "stop", completion.Choices[0].FinishReason)
	require.Equal(t, "gpt-4", completion.Model)
}

func TestTranslator_ToolCallHandoffNonStreaming(t *testing.T) {
	opts := translator.Options{
		Model:       "k2-think",
		ToolSupport: true,
		Tools:       []openai.Tool{{Type: "function", Function: openai.ToolFunction{Name: "get_weather"}}},
		ToolChoice:  "auto",
		ScanLimit:   200000,
	}

	tr := translator.New(opts, time.Unix(0, 0))

	tr.FeedDelta("<answer>Sure.\n```json\n{\"tool_calls\":[{\"name\":\"get_weather\",\"arguments\":{\"city\":\"Paris\"}}]}\n```\n</answer>")

	completion := tr.FinishNonStream()

	require.Equal(t, "Sure.", completion.Choices[0].Message.Content)
	require.Equal(t, "tool_calls", completion.Choices[0].FinishReason)
	require.Len(t, completion.Choices[0].Message.ToolCalls, 1)
	require.Equal(t, "call_0", completion.Choices[0].Message.ToolCalls[0].ID)
	require.JSONEq(t, `{"city":"Paris"}`, completion.Choices[0].Message.ToolCalls[0].Function.Arguments)
}

func TestTranslator_NoToolsMeansNoExtraction(t *testing.T) {
	tr := translator.New(translator.Options{Model: "k2-think", ToolSupport: true}, time.Unix(0, 0))

	tr.FeedDelta(`<answer>call get_weather with {"city":"Paris"}</answer>`)
	completion := tr.FinishNonStream()

	require.Equal(t, `call get_weather with {"city":"Paris"}`, completion.Choices[0].Message.Content)
	require.Equal(t, "stop", completion.Choices[0].FinishReason)
}

func TestTranslator_UsageTokensAreMonotonic(t *testing.T) {
	tr := translator.New(translator.Options{Model: "k2-think", PromptText: "hello there friend"}, time.Unix(0, 0))

	tr.FeedDelta("<answer>one two three four</answer>")
	completion := tr.FinishNonStream()

	require.Equal(t, 3, completion.Usage.PromptTokens)
	require.Equal(t, 4, completion.Usage.CompletionTokens)
	require.Equal(t, 7, completion.Usage.TotalTokens)
}
