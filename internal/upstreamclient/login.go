package upstreamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/openrelay/k2think-proxy/internal/apperr"
)

// tokenFieldPaths lists the gjson paths tried in order to locate the bearer
// token in an upstream login response. spec.md §9 flags the exact schema as
// an open question to confirm against the live upstream; until then we read
// whichever of these common shapes is present and document the assumption
// in DESIGN.md rather than hard-coding a single field name.
var tokenFieldPaths = []string{
	"token",
	"access_token",
	"data.token",
	"data.access_token",
	"accessToken",
	"data.accessToken",
}

// Login exchanges an account's credentials for a bearer token via the
// upstream login endpoint (spec.md §6 "Login endpoint").
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.LoginURL, bytes.NewReader(body))
	if err != nil {
		return "", apperr.RefresherError(err, "failed to build login request")
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", apperr.RefresherError(err, "login request failed for %s", email)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.RefresherError(err, "failed to read login response for %s", email)
	}

	if resp.StatusCode >= 400 {
		return "", apperr.RefresherError(nil, "login failed for %s: HTTP %d", email, resp.StatusCode)
	}

	for _, path := range tokenFieldPaths {
		result := gjson.GetBytes(data, path)
		if result.Exists() && result.String() != "" {
			return result.String(), nil
		}
	}

	return "", apperr.RefresherError(nil, "login response for %s did not contain a recognized token field", email)
}
