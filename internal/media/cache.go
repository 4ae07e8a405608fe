package media

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cache is a directory-backed TTL cache for downloaded media. Entries are
// files named "<id>_<suffix>"; freshness is judged by file mtime.
type Cache struct {
	dir    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache creates the cache directory if it does not exist
func NewCache(dir string, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	return &Cache{
		dir:    dir,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Dir returns the backing directory
func (c *Cache) Dir() string {
	return c.dir
}

// Lookup returns the path of a fresh cache entry for id, or false when no
// entry exists or the entry has expired.
func (c *Cache) Lookup(id string) (string, bool) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn("Failed to read cache directory",
			slog.String("dir", c.dir),
			slog.String("error", err.Error()),
		)
		return "", false
	}

	prefix := id + "_"
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > c.ttl {
			continue
		}

		return filepath.Join(c.dir, entry.Name()), true
	}

	return "", false
}

// EntryPath builds the cache path for a new entry
func (c *Cache) EntryPath(id, suffix string) string {
	return filepath.Join(c.dir, id+"_"+suffix)
}

// Sweep deletes expired entries and returns how many were removed
func (c *Cache) Sweep() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read cache directory %s: %w", c.dir, err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) <= c.ttl {
			continue
		}

		path := filepath.Join(c.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			c.logger.Warn("Failed to remove expired cache entry",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}

	if removed > 0 {
		c.logger.Info("Swept expired cache entries",
			slog.String("dir", c.dir),
			slog.Int("removed", removed),
		)
	}

	return removed, nil
}
