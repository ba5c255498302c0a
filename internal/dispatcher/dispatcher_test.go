package dispatcher_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/openrelay/k2think-proxy/internal/dispatcher"
	"github.com/openrelay/k2think-proxy/internal/pool"
	"github.com/openrelay/k2think-proxy/internal/upstreamclient"
)

type noopRefresher struct{ called int }

func (n *noopRefresher) ForceUpdate(ctx context.Context) { n.called++ }

func newEngine(t *testing.T, upstreamURL string, tokens []string, cfg dispatcher.Config) (*gin.Engine, *noopRefresher) {
	t.Helper()

	return newEngineWithMaxFailures(t, upstreamURL, tokens, 3, cfg)
}

func newEngineWithMaxFailures(t *testing.T, upstreamURL string, tokens []string, maxFailures int, cfg dispatcher.Config) (*gin.Engine, *noopRefresher) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	p := pool.New(maxFailures)
	p.Replace(tokens)

	client := upstreamclient.New(upstreamURL, upstreamURL+"/login", 5*time.Second)
	refresher := &noopRefresher{}

	d := dispatcher.New(cfg, p, client, refresher)

	engine := gin.New()
	d.Register(engine)

	return engine, refresher
}

func TestChatCompletions_NonStreamPlainText(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"<answer>Hello</answer>\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer upstream.Close()

	engine, _ := newEngine(t, upstream.URL, []string{"tok-a"}, dispatcher.Config{AllowAnyAPIKey: true})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(
		`{"model":"gpt-4","messages":[{"role":"user","content":"Hi"}],"stream":false}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"content":"Hello"`)
	require.Contains(t, rec.Body.String(), `"finish_reason":"stop"`)
}

func TestChatCompletions_StrictAuthRejectsBadKey(t *testing.T) {
	engine, _ := newEngine(t, "http://unused.invalid", []string{"tok-a"}, dispatcher.Config{
		AllowAnyAPIKey: false,
		ValidAPIKey:    "secret",
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()

	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatCompletions_TokenFailoverToSecondToken(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer bad" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":"unauthorized"}`)

			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"<answer>OK</answer>\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer upstream.Close()

	engine, _ := newEngine(t, upstream.URL, []string{"bad", "good"}, dispatcher.Config{AllowAnyAPIKey: true})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(
		`{"model":"gpt-4","messages":[{"role":"user","content":"Hi"}],"stream":false}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"content":"OK"`)
}

func TestChatCompletions_StreamingForwardsChunks(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"<answer>Hi\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\" there</answer>\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	engine, _ := newEngine(t, upstream.URL, []string{"tok-a"}, dispatcher.Config{AllowAnyAPIKey: true})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(
		`{"model":"gpt-4","messages":[{"role":"user","content":"Hi"}],"stream":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	require.Contains(t, body, `"role":"assistant"`)
	require.Contains(t, body, "Hi")
	require.Contains(t, body, "there")
	require.Contains(t, body, `"finish_reason":"stop"`)
	require.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))
}

func TestChatCompletions_ModelOverrideAppliesToUpstreamAndResponse(t *testing.T) {
	var sawModel string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sawModel = string(body)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"<answer>ok</answer>\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer upstream.Close()

	engine, _ := newEngine(t, upstream.URL, []string{"tok-a"}, dispatcher.Config{
		AllowAnyAPIKey:  true,
		ModelOverride:   true,
		UpstreamModelID: "k2-think-upstream",
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(
		`{"model":"gpt-4","messages":[{"role":"user","content":"Hi"}],"stream":false}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, sawModel, "k2-think-upstream")
	require.Contains(t, rec.Body.String(), `"model":"k2-think-upstream"`)
}

// TestChatCompletions_AutoRefreshTriggersAfterTwoTokensDisabled covers
// spec.md §8 scenario 4: once a single request has disabled two distinct
// tokens out of a starting pool larger than two, the dispatcher schedules
// the Refresher's account-login refresh before continuing the retry loop.
func TestChatCompletions_AutoRefreshTriggersAfterTwoTokensDisabled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer good" {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"<answer>OK</answer>\"}}]}\n\ndata: [DONE]\n\n")

			return
		}

		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"unauthorized"}`)
	}))
	defer upstream.Close()

	engine, refresher := newEngineWithMaxFailures(t, upstream.URL, []string{"bad-1", "bad-2", "good"}, 1, dispatcher.Config{AllowAnyAPIKey: true})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(
		`{"model":"gpt-4","messages":[{"role":"user","content":"Hi"}],"stream":false}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"content":"OK"`)
	require.Equal(t, 1, refresher.called)
}
