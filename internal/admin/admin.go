// Package admin implements the Admin Surface of spec.md §4.6: operator-only
// endpoints to inspect and manage the token pool and the Refresher, mounted
// under /admin. Grounded on the reference gateway's admin route grouping
// (internal/server/routes.go's unSecureAdminGroup/adminGroup split) and its
// handlers' c.JSON(gin.H{...}) response style, simplified from JWT session
// auth down to the single static admin key spec.md §4.6 describes.
package admin

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openrelay/k2think-proxy/internal/apperr"
	"github.com/openrelay/k2think-proxy/internal/pool"
	"github.com/openrelay/k2think-proxy/internal/refresher"
	"github.com/openrelay/k2think-proxy/internal/tokenstore"
)

// Refresher is the subset of *refresher.Refresher the admin surface calls.
type Refresher interface {
	ForceUpdate(ctx context.Context)
	Status() refresher.Status
}

// Config carries the admin key the operator authenticates with and the
// token file path reload re-reads (spec.md §4.6 "reload").
type Config struct {
	AdminKey   string
	TokensFile string
}

// Admin wires the Pool and Refresher into the /admin handlers.
type Admin struct {
	cfg       Config
	pool      *pool.Pool
	refresher Refresher
}

func New(cfg Config, p *pool.Pool, refresher Refresher) *Admin {
	return &Admin{cfg: cfg, pool: p, refresher: refresher}
}

// Register attaches the admin routes to engine under a group guarded by
// RequireAdminKey (spec.md §4.6 "every /admin route requires the admin key").
func (a *Admin) Register(engine *gin.Engine) {
	group := engine.Group("/admin/tokens", a.RequireAdminKey())

	group.GET("/stats", a.TokenStats)
	group.POST("/reload", a.TokensReload)
	group.POST("/reset/:index", a.TokenReset)
	group.POST("/reset-all", a.TokenResetAll)
	group.GET("/updater/status", a.UpdaterStatus)
	group.POST("/updater/force-update", a.UpdaterForceUpdate)
}

// RequireAdminKey checks the X-Admin-Key header against Config.AdminKey. An
// empty configured key disables the admin surface entirely, since an open
// reset-all/force-update endpoint on an unconfigured key would be worse than
// refusing to serve it (spec.md §4.6 "admin_key unset disables /admin").
func (a *Admin) RequireAdminKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.cfg.AdminKey == "" || c.GetHeader("X-Admin-Key") != a.cfg.AdminKey {
			writeError(c, apperr.AuthError("invalid or missing admin key"))
			c.Abort()

			return
		}

		c.Next()
	}
}

// TokenStats reports spec.md §4.1 "stats": total/active/disabled counts and
// each entry's failure_count/disabled state. Token values themselves are
// never included in the response.
func (a *Admin) TokenStats(c *gin.Context) {
	stats := a.pool.Stats()

	entries := make([]gin.H, len(stats.Entries))
	for i, e := range stats.Entries {
		entries[i] = gin.H{
			"index":         i,
			"failure_count": e.FailureCount,
			"disabled":      e.Disabled,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total":    stats.Total,
		"active":   stats.Active,
		"disabled": stats.Disabled,
		"tokens":   entries,
	})
}

// TokensReload re-reads the token file and replaces the pool's contents
// (spec.md §4.6 "reload from disk and replace the pool"). This is a plain
// file re-read, distinct from UpdaterForceUpdate's account login flow.
func (a *Admin) TokensReload(c *gin.Context) {
	total, err := a.ReloadTokens(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reloaded", "total": total})
}

// ReloadTokens re-reads the token file and replaces the pool's contents. It
// is the shared implementation behind TokensReload and the token-file
// watcher (SPEC_FULL.md supplemented feature 5), which must re-run this same
// plain file re-read rather than a full account-login refresh.
func (a *Admin) ReloadTokens(ctx context.Context) (int, error) {
	tokens, err := tokenstore.Load(a.cfg.TokensFile)
	if err != nil {
		return 0, err
	}

	a.pool.Replace(tokens)

	return len(tokens), nil
}

// TokenReset clears one token's failure accounting by its stats-order index
// (spec.md §4.1 "reset").
func (a *Admin) TokenReset(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		writeError(c, apperr.BadRequest("invalid token index %q", c.Param("index")))
		return
	}

	if err := a.pool.Reset(index); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// TokenResetAll clears every token's failure accounting (spec.md §4.1
// "reset_all").
func (a *Admin) TokenResetAll(c *gin.Context) {
	a.pool.ResetAll()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// UpdaterStatus reports the Refresher's last-run outcome and schedule
// (spec.md §4.6 "updater status").
func (a *Admin) UpdaterStatus(c *gin.Context) {
	status := a.refresher.Status()

	resp := gin.H{
		"enabled":     status.Enabled,
		"in_progress": status.InProgress,
		"last_result": status.LastResult,
	}

	if !status.LastRunAt.IsZero() {
		resp["last_run_at"] = status.LastRunAt.Unix()
	}

	if !status.NextRunAt.IsZero() {
		resp["next_run_at"] = status.NextRunAt.Unix()
	}

	c.JSON(http.StatusOK, resp)
}

// UpdaterForceUpdate schedules an immediate account-login refresh and
// returns without waiting for it to finish (spec.md §4.6 "returns after
// scheduling, does not block on completion").
func (a *Admin) UpdaterForceUpdate(c *gin.Context) {
	a.refresher.ForceUpdate(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"status": "update triggered"})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	if e, ok := apperr.As(err); ok {
		status = e.Status()
	}

	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"message": message}})
}
