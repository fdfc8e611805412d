package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

const defaultFilePragmas = "mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// ResolveDSN maps the configured database setting onto a driver DSN. Postgres
// URLs and key/value strings pass through; anything else is treated as a
// SQLite file path.
func ResolveDSN(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	if isPostgres(trimmed) || strings.HasPrefix(trimmed, "file:") {
		return trimmed, nil
	}
	return FileDSN(trimmed)
}

// FileDSN converts a filesystem path into an on-disk SQLite DSN with WAL and
// a busy timeout. Callers must ensure the path is non-empty.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve storage path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}
