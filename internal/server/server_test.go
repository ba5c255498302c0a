package server_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/openrelay/k2think-proxy/internal/server"
)

type fakeRegistrar struct{ path string }

func (f fakeRegistrar) Register(engine *gin.Engine) {
	engine.GET(f.path, func(c *gin.Context) { c.String(http.StatusOK, "ok") })
}

func TestNew_RegistersRoutesFromEveryRegistrar(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv := server.New(server.Config{RequestTimeout: time.Second}, fakeRegistrar{path: "/a"}, fakeRegistrar{path: "/b"})

	for _, path := range []string{"/a", "/b"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, "path %s", path)
	}
}

func TestNew_CORSHeaderPresentOnPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv := server.New(server.Config{RequestTimeout: time.Second}, fakeRegistrar{path: "/a"})

	req := httptest.NewRequest(http.MethodOptions, "/a", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestShutdown_WithoutRunIsNoop(t *testing.T) {
	srv := server.New(server.Config{RequestTimeout: time.Second})

	require.NoError(t, srv.Shutdown(nil))
}
