package dispatcher

import (
	"strings"

	"github.com/openrelay/k2think-proxy/internal/apperr"
)

// checkClientAuth implements spec.md §4.3 "Client authentication": in
// strict mode the Bearer token must equal the configured key; in permissive
// mode any value, including an absent header, is accepted.
func checkClientAuth(header string, allowAny bool, validKey string) error {
	if allowAny {
		return nil
	}

	key := strings.TrimPrefix(header, "Bearer ")
	if key == header {
		key = "" // no "Bearer " prefix present
	}

	if key == "" || key != validKey {
		return apperr.AuthError("invalid or missing API key")
	}

	return nil
}
