package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Supported backend names for Open.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Open constructs the named backend rooted at path.
func Open(backend, path string) (Database, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendMemory:
		return NewMemDB(), nil
	case BackendLevelDB:
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("storage: leveldb backend requires a path")
		}
		return NewLevelDB(path)
	case BackendBolt:
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("storage: bolt backend requires a path")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create bolt dir: %w", err)
		}
		return NewBoltDB(path, nil)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
