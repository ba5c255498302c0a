// Package refresher implements the Token Refresher of spec.md §4.2: a
// background task that logs in every configured account, writes the
// resulting tokens to the token store, and replaces the Pool's contents.
// Grounded on the reference gateway's llm/oauth.TokenProvider (singleflight-
// coalesced refresh, internal/log for failure reporting), generalized from
// "refresh one provider's credential" to "refresh a whole account list and
// atomically replace a pool".
package refresher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openrelay/k2think-proxy/internal/accountstore"
	"github.com/openrelay/k2think-proxy/internal/apperr"
	"github.com/openrelay/k2think-proxy/internal/log"
	"github.com/openrelay/k2think-proxy/internal/pool"
	"github.com/openrelay/k2think-proxy/internal/tokenstore"
)

// LoginFunc exchanges one account's credentials for a bearer token; the
// production wiring passes upstreamclient.Client.Login.
type LoginFunc func(ctx context.Context, email, password string) (string, error)

// Status is the point-in-time snapshot served by GET /admin/tokens/updater/status
// (spec.md §4.6).
type Status struct {
	Enabled     bool
	LastRunAt   time.Time
	LastResult  string
	NextRunAt   time.Time
	InProgress  bool
}

const (
	stateIdle int32 = iota
	stateRunning
)

// Refresher is the background token-refresh task of spec.md §4.2. The zero
// value is not usable; construct with New.
type Refresher struct {
	accountsPath string
	tokensPath   string
	pool         *pool.Pool
	login        LoginFunc
	period       time.Duration
	enabled      bool

	sf    singleflight.Group
	state int32
	// pending is set when force_update is called while a run is already in
	// progress; the running goroutine checks it after finishing and starts
	// exactly one additional run instead of dropping the request (spec.md
	// §4.2 "sets a pending flag causing one additional run after the
	// current completes").
	pending int32

	mu         sync.Mutex
	lastRunAt  time.Time
	lastResult string
	nextRunAt  time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Refresher bound to p, using login to exchange each
// account's credentials for a bearer token (production wiring passes
// (*upstreamclient.Client).Login). enabled controls whether Start also arms
// the periodic timer (spec.md §6 "enable_token_auto_update"); ForceUpdate
// works regardless of enabled, matching the admin-triggered and dispatcher-
// triggered call paths which are not gated by the setting.
func New(accountsPath, tokensPath string, p *pool.Pool, login LoginFunc, period time.Duration, enabled bool) *Refresher {
	return &Refresher{
		accountsPath: accountsPath,
		tokensPath:   tokensPath,
		pool:         p,
		login:        login,
		period:       period,
		enabled:      enabled,
	}
}

// Start begins the background timer task. It is safe to call Start once;
// calling it again is a no-op until Stop has been called.
func (r *Refresher) Start(ctx context.Context) {
	if r.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(ctx)
}

func (r *Refresher) loop(ctx context.Context) {
	defer close(r.done)

	if !r.enabled || r.period <= 0 {
		r.setNextRunAt(time.Time{})
		<-ctx.Done()

		return
	}

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	r.setNextRunAt(time.Now().Add(r.period))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ForceUpdate(ctx)
			r.setNextRunAt(time.Now().Add(r.period))
		}
	}
}

// Stop cancels the background timer; any refresh already running is left to
// complete (spec.md §4.2 "stop(): ... any in-flight refresh runs to
// completion").
func (r *Refresher) Stop() {
	if r.cancel == nil {
		return
	}

	r.cancel()
	<-r.done
}

// ForceUpdate triggers an immediate refresh. It never blocks the caller on
// the refresh itself (spec.md §4.3 "call Refresher.force_update (non-
// blocking)"): if a run is already in progress it sets the pending flag and
// returns; otherwise it kicks off a new run in a background goroutine. The
// run keeps ctx's values but not its cancellation, so it outlives the
// caller's request and a Stop.
func (r *Refresher) ForceUpdate(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&r.state, stateIdle, stateRunning) {
		atomic.StoreInt32(&r.pending, 1)
		return
	}

	go r.runUntilDrained(context.WithoutCancel(ctx))
}

func (r *Refresher) runUntilDrained(ctx context.Context) {
	for {
		r.runOnce(ctx)

		if !atomic.CompareAndSwapInt32(&r.pending, 1, 0) {
			atomic.StoreInt32(&r.state, stateIdle)
			return
		}
	}
}

// runOnce performs the algorithm of spec.md §4.2 steps 1-4. Overlapping
// direct calls (not through ForceUpdate's state machine) still coalesce via
// singleflight so a malfunctioning caller cannot run two logins concurrently.
func (r *Refresher) runOnce(ctx context.Context) {
	r.setInProgress(true)
	defer r.setInProgress(false)

	_, _, _ = r.sf.Do("refresh", func() (any, error) {
		err := r.refresh(ctx)
		r.recordResult(err)

		return nil, err
	})
}

func (r *Refresher) refresh(ctx context.Context) error {
	accounts, err := accountstore.Load(r.accountsPath)
	if err != nil {
		return err
	}

	if len(accounts) == 0 {
		log.Info(ctx, "no accounts configured, skipping token refresh")
		return nil
	}

	var tokens []string

	for _, acc := range accounts {
		token, err := r.login(ctx, acc.Email, acc.Password)
		if err != nil {
			log.Warn(ctx, "account login failed during refresh", log.String("email", acc.Email), log.Cause(err))
			continue
		}

		tokens = append(tokens, token)
	}

	if len(tokens) == 0 {
		return apperr.RefresherError(nil, "refresh obtained zero tokens from %d accounts", len(accounts))
	}

	if err := tokenstore.Save(r.tokensPath, tokens); err != nil {
		return err
	}

	r.pool.Replace(tokens)

	log.Info(ctx, "token refresh completed", log.Int("tokens", len(tokens)), log.Int("accounts", len(accounts)))

	return nil
}

func (r *Refresher) setInProgress(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v {
		r.lastRunAt = time.Now()
	}
}

func (r *Refresher) recordResult(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.lastResult = err.Error()
		return
	}

	r.lastResult = "ok"
}

func (r *Refresher) setNextRunAt(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextRunAt = t
}

// Status returns a snapshot for GET /admin/tokens/updater/status.
func (r *Refresher) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Status{
		Enabled:    r.enabled,
		LastRunAt:  r.lastRunAt,
		LastResult: r.lastResult,
		NextRunAt:  r.nextRunAt,
		InProgress: atomic.LoadInt32(&r.state) == stateRunning,
	}
}
