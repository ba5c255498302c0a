// Package tokenstore reads and atomically rewrites the flat token file of
// spec.md §6: UTF-8, one token per line, blank and "#"-prefixed lines
// ignored, order preserved.
package tokenstore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/openrelay/k2think-proxy/internal/apperr"
)

// Load reads the token file at path, returning tokens in file order. A
// missing file is a ConfigError; an empty or all-comment file yields an
// empty, non-error slice.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.ConfigError("token file not found: %s", path)
		}

		return nil, apperr.ConfigError("failed to open token file %s: %v", path, err)
	}
	defer f.Close()

	var tokens []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		tokens = append(tokens, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, apperr.ConfigError("failed to read token file %s: %v", path, err)
	}

	return tokens, nil
}

// Save writes tokens to path via write-to-temp-then-rename so readers never
// observe a partially written file (spec.md §4.2 step 3).
func Save(path string, tokens []string) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".tokens-*.tmp")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	removeTmp := true
	defer func() {
		if removeTmp {
			os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, tok := range tokens {
		if _, err := w.WriteString(tok + "\n"); err != nil {
			tmp.Close()
			return err
		}
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	removeTmp = false

	return nil
}
