// Package server wires the gin engine, its ambient middleware, CORS, and the
// dispatcher/admin route groups into one runnable *http.Server. Grounded on
// the reference gateway's internal/server/server.go (Server embeds
// *gin.Engine, Run/Shutdown wrap *http.Server) and its routes.go (CORS
// middleware mounted conditionally, grouped route registration), simplified
// from fx-driven dependency injection to explicit constructor wiring since
// this proxy's object graph is small enough not to need a DI framework.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/openrelay/k2think-proxy/internal/log"
	"github.com/openrelay/k2think-proxy/internal/server/middleware"
)

// Config is the subset of configuration the server needs to bind and size
// its HTTP listener.
type Config struct {
	Host           string
	Port           int
	Debug          bool
	RequestTimeout time.Duration
}

// Registrar attaches a set of routes to the engine; internal/dispatcher and
// internal/admin both implement this via their Register methods.
type Registrar interface {
	Register(engine *gin.Engine)
}

// Server wraps a gin.Engine and the *http.Server serving it.
type Server struct {
	*gin.Engine

	cfg  Config
	http *http.Server
}

// New builds a Server with the ambient middleware stack (panic recovery,
// request id, access log, permissive CORS) and registers every given
// Registrar's routes.
func New(cfg Config, registrars ...Registrar) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.AccessLog())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Admin-Key")
	engine.Use(cors.New(corsCfg))

	srv := &Server{Engine: engine, cfg: cfg}

	for _, r := range registrars {
		r.Register(engine)
	}

	return srv
}

// Run starts the HTTP listener and blocks until it is shut down.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Engine,
		ReadTimeout:  s.cfg.RequestTimeout,
		WriteTimeout: s.cfg.RequestTimeout,
	}

	log.Info(context.Background(), "starting server", log.String("addr", addr))

	err := s.http.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}

	return s.http.Shutdown(ctx)
}
