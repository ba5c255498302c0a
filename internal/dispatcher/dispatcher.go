// Package dispatcher implements the Request Dispatcher of spec.md §4.3: the
// gin HTTP handler that authenticates the client, transforms the request,
// runs the token-selection/retry loop against the upstream, and streams or
// collects the Response Translator's output back to the client. Grounded
// on the reference gateway's internal/server/api/chat.go (request read,
// SSE write loop with c.Writer.Flush/CloseNotify) and its orchestrator
// retry loop (internal/server/orchestrator/retry.go), generalized from a
// multi-channel load balancer down to a single upstream with one token pool.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openrelay/k2think-proxy/internal/apperr"
	"github.com/openrelay/k2think-proxy/internal/log"
	"github.com/openrelay/k2think-proxy/internal/openai"
	"github.com/openrelay/k2think-proxy/internal/pool"
	"github.com/openrelay/k2think-proxy/internal/translator"
	"github.com/openrelay/k2think-proxy/internal/upstreamclient"
)

// Config is the subset of internal/config.Config the dispatcher needs,
// narrowed to a local type so this package does not import the full
// configuration surface.
type Config struct {
	AllowAnyAPIKey bool
	ValidAPIKey    string

	UpstreamModelID string
	ModelOverride   bool

	ToolSupport    bool
	ScanLimit      int
	OutputThinking bool
}

// Refresher is the subset of *refresher.Refresher the dispatcher calls for
// the auto-refresh trigger of spec.md §4.3.
type Refresher interface {
	ForceUpdate(ctx context.Context)
}

// Dispatcher wires the Pool, upstream client and Refresher into the HTTP
// handlers of spec.md §4.3.
type Dispatcher struct {
	cfg       Config
	pool      *pool.Pool
	client    *upstreamclient.Client
	refresher Refresher
}

func New(cfg Config, p *pool.Pool, client *upstreamclient.Client, refresher Refresher) *Dispatcher {
	return &Dispatcher{cfg: cfg, pool: p, client: client, refresher: refresher}
}

// Register attaches the dispatcher's routes to engine.
func (d *Dispatcher) Register(engine *gin.Engine) {
	engine.GET("/health", d.Health)
	engine.GET("/v1/models", d.ListModels)
	engine.POST("/v1/chat/completions", d.ChatCompletions)
}

func (d *Dispatcher) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (d *Dispatcher) ListModels(c *gin.Context) {
	id := d.cfg.UpstreamModelID
	if id == "" {
		id = "k2-think"
	}

	c.JSON(http.StatusOK, openai.ModelsList{
		Object: "list",
		Data:   []openai.ModelInfo{{ID: id, Object: "model", OwnedBy: "k2think-proxy"}},
	})
}

// ChatCompletions implements POST /v1/chat/completions end to end.
func (d *Dispatcher) ChatCompletions(c *gin.Context) {
	ctx := c.Request.Context()

	if err := checkClientAuth(c.GetHeader("Authorization"), d.cfg.AllowAnyAPIKey, d.cfg.ValidAPIKey); err != nil {
		writeError(c, err)
		return
	}

	var req openai.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.BadRequest("invalid request body: %v", err))
		return
	}

	clientModel := req.Model

	if d.cfg.ModelOverride && d.cfg.UpstreamModelID != "" {
		log.Debug(ctx, "overriding client model", log.String("client_model", clientModel), log.String("upstream_model", d.cfg.UpstreamModelID))
		req.Model = d.cfg.UpstreamModelID
	}

	body, err := buildUpstreamBody(req, d.cfg.ToolSupport)
	if err != nil {
		writeError(c, apperr.BadRequest("failed to build upstream request: %v", err))
		return
	}

	toolChoice := req.ToolChoice.Mode
	if toolChoice == "" {
		toolChoice = openai.ToolChoiceAuto
	}

	tr := translator.New(translator.Options{
		Model:          responseModel(req, d.cfg),
		OutputThinking: d.cfg.OutputThinking,
		ToolSupport:    d.cfg.ToolSupport,
		Tools:          req.Tools,
		ToolChoice:     toolChoice,
		ScanLimit:      d.cfg.ScanLimit,
		PromptText:     promptText(req),
	}, time.Now())

	result, err := d.runDispatchLoop(ctx, body)
	if err != nil {
		writeError(c, err)
		return
	}
	defer result.Close()

	if req.Stream {
		writeSSEStream(c, result, tr)
		return
	}

	if err := drainNonStream(result, tr); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, tr.FinishNonStream())
}

func responseModel(req openai.ChatRequest, cfg Config) string {
	if cfg.ModelOverride && cfg.UpstreamModelID != "" {
		return cfg.UpstreamModelID
	}

	return req.Model
}

func buildUpstreamBody(req openai.ChatRequest, toolSupport bool) ([]byte, error) {
	upstream := upstreamclient.ChatRequest{
		Model:    req.Model,
		Messages: buildUpstreamMessages(req, toolSupport),
		Stream:   true,
	}

	return json.Marshal(upstream)
}

// runDispatchLoop implements spec.md §4.3 "Dispatch loop": select a token,
// issue the upstream call, retry on transport/401/403/auth-tag failures up
// to the pool size at the start of the request, triggering the Refresher's
// auto-refresh once two distinct tokens have been disabled within the
// request (when the starting pool size was > 2).
func (d *Dispatcher) runDispatchLoop(ctx context.Context, body []byte) (*upstreamclient.ChatResult, error) {
	startSize := d.pool.Size()
	if startSize == 0 {
		return nil, apperr.PoolEmpty()
	}

	disabledThisRequest := 0
	triggered := false

	for attempt := 0; attempt < startSize; attempt++ {
		entry, err := d.pool.Select()
		if err != nil {
			return nil, err
		}

		result, err := d.client.Chat(ctx, entry.Value, body)
		if err != nil {
			if apperr.Is(err, apperr.KindTokenAuthFailed) {
				_, disabledNow := d.pool.RecordFailure(entry.Value)
				if disabledNow {
					disabledThisRequest++
				}

				d.maybeTriggerRefresh(ctx, startSize, disabledThisRequest, &triggered)

				continue
			}

			return nil, err
		}

		if result.StatusCode >= 400 {
			if isAuthFailure(result.StatusCode, result.Body) {
				_, disabledNow := d.pool.RecordFailure(entry.Value)
				if disabledNow {
					disabledThisRequest++
				}

				d.maybeTriggerRefresh(ctx, startSize, disabledThisRequest, &triggered)

				continue
			}

			return nil, apperr.UpstreamError(nil, "upstream returned HTTP %d: %s", result.StatusCode, truncate(result.Body, 500))
		}

		d.pool.RecordSuccess(entry.Value)

		return result, nil
	}

	return nil, apperr.PoolEmpty()
}

func (d *Dispatcher) maybeTriggerRefresh(ctx context.Context, startSize, disabledThisRequest int, triggered *bool) {
	if *triggered {
		return
	}

	if startSize > 2 && disabledThisRequest >= 2 {
		*triggered = true
		d.refresher.ForceUpdate(ctx)
	}
}

// isAuthFailure treats HTTP 401/403 as authoritative and otherwise looks
// for a well-known auth-failure marker in the body, per spec.md §9 ("Treat
// HTTP 401/403 as authoritative; for any other signal, prefer failing the
// request rather than burning tokens").
func isAuthFailure(status int, body []byte) bool {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return true
	}

	return bytes.Contains(bytes.ToLower(body), []byte("unauthorized"))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}

	return string(b[:n]) + "..."
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	if e, ok := apperr.As(err); ok {
		status = e.Status()
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"type":    errType(err),
		},
	})
}

func errType(err error) string {
	if e, ok := apperr.As(err); ok {
		return string(e.Kind)
	}

	return "internal_error"
}
