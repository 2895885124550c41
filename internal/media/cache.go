package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const cacheDirPerm = 0o700

// Cache is a private scratch directory for downloaded and transcoded files.
type Cache struct {
	dir    string
	logger *slog.Logger
}

// NewCache creates the cache directory if needed.
func NewCache(dir string, log *slog.Logger) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("media cache dir is required")
	}
	if err := os.MkdirAll(dir, cacheDirPerm); err != nil {
		return nil, fmt.Errorf("create media cache dir: %w", err)
	}
	if err := os.Chmod(dir, cacheDirPerm); err != nil {
		return nil, fmt.Errorf("chmod media cache dir: %w", err)
	}
	return &Cache{dir: dir, logger: log.With(slog.String("component", "media_cache"))}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Spool copies reader into a new uuid-named file, rejecting payloads over maxBytes.
func (c *Cache) Spool(reader io.Reader, maxBytes int64, ext string) (string, int64, error) {
	if reader == nil {
		return "", 0, fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		return "", 0, fmt.Errorf("max bytes must be greater than 0")
	}
	path := c.newPath(ext)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("create cache file: %w", err)
	}
	keep := false
	defer func() {
		_ = file.Close()
		if !keep {
			_ = os.Remove(path)
		}
	}()
	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	written, err := io.Copy(file, limited)
	if err != nil {
		return "", 0, fmt.Errorf("copy to cache file: %w", err)
	}
	if written > maxBytes {
		return "", 0, fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, maxBytes)
	}
	keep = true
	return path, written, nil
}

// Write stores data under a new uuid-named file.
func (c *Cache) Write(data []byte, ext string) (string, error) {
	path := c.newPath(ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write cache file: %w", err)
	}
	return path, nil
}

// Remove deletes a cache file, ignoring missing files.
func (c *Cache) Remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("remove cache file failed", slog.String("path", path), slog.Any("error", err))
	}
}

func (c *Cache) newPath(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(c.dir, uuid.NewString()+ext)
}

// Cleanup removes regular files older than maxAge and returns how many were removed.
func (c *Cache) Cleanup(now time.Time, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read media cache dir: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if maxAge > 0 && now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("cleanup cache file failed", slog.String("name", entry.Name()), slog.Any("error", err))
			continue
		}
		removed++
	}
	return removed, nil
}
