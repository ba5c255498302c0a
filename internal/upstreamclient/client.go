// Package upstreamclient issues HTTP calls to the K2-Think upstream: the
// chat-completion endpoint and the login endpoint used by the Refresher
// (spec.md §6 "Upstream HTTP"). Grounded on the reference gateway's
// llm/httpclient request/response model and its go-sse-backed streaming
// decoder, simplified to a single upstream format.
package upstreamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/openrelay/k2think-proxy/internal/apperr"
	"github.com/openrelay/k2think-proxy/internal/streams"
)

// Client issues requests to the upstream chat and login endpoints, reusing
// one *http.Client (and its connection pool) per process (spec.md §5
// "Shared resources").
type Client struct {
	HTTP            *http.Client
	ChatURL         string
	LoginURL        string
	RequestTimeout  time.Duration
}

// New builds a Client with the timeouts of spec.md §5 ("120s total, 10s
// connect").
func New(chatURL, loginURL string, requestTimeout time.Duration) *Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	return &Client{
		HTTP: &http.Client{
			Transport: &http.Transport{
				DialContext: dialer.DialContext,
			},
		},
		ChatURL:        chatURL,
		LoginURL:       loginURL,
		RequestTimeout: requestTimeout,
	}
}

// ChatRequest is the minimal upstream chat body (spec.md §6 "body is a JSON
// object with at least {model, messages, stream}").
type ChatRequest struct {
	Model    string                   `json:"model"`
	Messages []map[string]any         `json:"messages"`
	Stream   bool                     `json:"stream"`
	Extra    map[string]any           `json:"-"`
}

func (r ChatRequest) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"model":    r.Model,
		"messages": r.Messages,
		"stream":   r.Stream,
	}

	for k, v := range r.Extra {
		m[k] = v
	}

	return json.Marshal(m)
}

// StreamEvent is one decoded SSE event (spec.md §3 "UpstreamResponseFragment").
type StreamEvent struct {
	Type string
	Data []byte
}

// ChatResult is the outcome of a chat call. Stream is nil when StatusCode
// indicates failure, in which case Body holds the raw error body for the
// dispatcher to inspect for auth-failure markers.
type ChatResult struct {
	StatusCode int
	Body       []byte
	Stream     streams.Stream[*StreamEvent]
}

// Close releases the underlying stream's resources, if any.
func (r *ChatResult) Close() error {
	if r.Stream == nil {
		return nil
	}

	return r.Stream.Close()
}

// Chat issues the upstream chat-completion request, authenticated with
// token. K2-Think answers every chat call with an SSE body regardless of
// the client's requested mode (spec.md §4.4, §8 scenario 1), so Chat always
// requests and decodes the event-stream form; the dispatcher buffers it
// into one completion when the client asked for stream:false. On a non-2xx
// status the body is read fully so the caller can inspect it for
// auth-failure markers (spec.md §9 "Treat HTTP 401/403 as authoritative").
func (c *Client) Chat(ctx context.Context, token string, body []byte) (*ChatResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.RequestTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ChatURL, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, apperr.UpstreamError(err, "failed to build upstream chat request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		cancel()
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		defer cancel()

		data, _ := io.ReadAll(resp.Body)

		return &ChatResult{StatusCode: resp.StatusCode, Body: data}, nil
	}

	decoder := newSSEDecoder(ctx, resp.Body, cancel)

	return &ChatResult{StatusCode: resp.StatusCode, Stream: decoder}, nil
}

// classifyTransportError maps a transport-level failure to either
// UpstreamTimeout, when the configured request timeout elapsed (spec.md's
// dispatch-error table promises a 504 for that case), or TokenAuthFailed for
// every other transport failure (connection refused, TLS handshake, DNS):
// spec.md §4.3 treats those the same as upstream 401/403 for
// record_failure/retry purposes, since a broken connection on this token is
// as uninformative as a bad auth response and the dispatcher's retry loop is
// bounded by pool size either way.
func classifyTransportError(err error) error {
	if isTimeout(err) {
		return apperr.UpstreamTimeout(err)
	}

	return apperr.TokenAuthFailed(err, "upstream transport error")
}

// isTimeout reports whether err represents the configured request timeout
// elapsing, whether surfaced as a context deadline or as the transport's own
// net.Error.Timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// sseDecoder adapts go-sse's Stream to streams.Stream[*StreamEvent].
type sseDecoder struct {
	ctx     context.Context
	body    io.ReadCloser
	sse     *sse.Stream
	cancel  context.CancelFunc
	current *StreamEvent
	err     error
	closed  bool
}

func newSSEDecoder(ctx context.Context, body io.ReadCloser, cancel context.CancelFunc) *sseDecoder {
	return &sseDecoder{
		ctx:    ctx,
		body:   body,
		cancel: cancel,
		sse: sse.NewStreamWithConfig(body, &sse.StreamConfig{
			MaxEventSize: 4 * 1024 * 1024,
		}),
	}
}

func (d *sseDecoder) Next() bool {
	if d.err != nil || d.closed {
		return false
	}

	select {
	case <-d.ctx.Done():
		if errors.Is(d.ctx.Err(), context.DeadlineExceeded) {
			d.err = apperr.UpstreamTimeout(d.ctx.Err())
		} else {
			d.err = d.ctx.Err()
		}

		_ = d.Close()

		return false
	default:
	}

	event, err := d.sse.Recv()
	if err != nil {
		if err == io.EOF {
			_ = d.Close()
			return false
		}

		if isTimeout(err) {
			d.err = apperr.UpstreamTimeout(err)
		} else {
			d.err = fmt.Errorf("upstream stream read failed: %w", err)
		}

		_ = d.Close()

		return false
	}

	d.current = &StreamEvent{Type: event.Type, Data: []byte(event.Data)}

	return true
}

func (d *sseDecoder) Current() *StreamEvent { return d.current }

func (d *sseDecoder) Err() error { return d.err }

func (d *sseDecoder) Close() error {
	if d.closed {
		return nil
	}

	d.closed = true
	d.cancel()

	return d.body.Close()
}
