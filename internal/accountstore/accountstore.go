// Package accountstore reads the account file of spec.md §6: one JSON
// object per line ({"email":...,"password":...}), blank and "#" lines
// ignored, additional fields ignored.
package accountstore

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"

	"github.com/openrelay/k2think-proxy/internal/apperr"
	"github.com/openrelay/k2think-proxy/internal/log"
)

// Record is one {email, password} login credential.
type Record struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Load reads accounts from path. A missing or empty file is not an error;
// callers (the Refresher) treat zero accounts as "skip this refresh".
// Malformed lines are logged and skipped rather than failing the whole load,
// since one bad account record should not take the others down with it.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, apperr.ConfigError("failed to open accounts file %s: %v", path, err)
	}
	defer f.Close()

	var records []Record

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var rec Record

		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			log.Warn(nil, "skipping malformed account record", log.Cause(err))
			continue
		}

		if rec.Email == "" || rec.Password == "" {
			log.Warn(nil, "skipping account record missing email or password")
			continue
		}

		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, apperr.ConfigError("failed to read accounts file %s: %v", path, err)
	}

	return records, nil
}
