/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package opuscache is the local filesystem tier for transcoded opus
// artifacts. Entries are keyed by track id and considered fresh while
// younger than the configured TTL.
package opuscache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Cache stores opus artifacts under one directory with TTL freshness.
type Cache struct {
	dir    string
	ttl    time.Duration
	logger zerolog.Logger
}

// New creates a cache rooted at dir. A TTL of zero or less means entries
// never expire.
func New(dir string, ttl time.Duration, logger zerolog.Logger) *Cache {
	return &Cache{
		dir:    dir,
		ttl:    ttl,
		logger: logger.With().Str("component", "opus_cache").Logger(),
	}
}

// Dir returns the cache root directory.
func (c *Cache) Dir() string {
	return c.dir
}

// TTL returns the configured freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Path returns the artifact path for a track id.
func (c *Cache) Path(trackID string) string {
	return filepath.Join(c.dir, trackID+".opus")
}

// EnsureDir creates the cache directory if missing.
func (c *Cache) EnsureDir() error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", c.dir, err)
	}
	return nil
}

// IsFresh reports whether the file at path is younger than the TTL.
// A TTL of zero or less means always fresh; a missing file is stale.
func (c *Cache) IsFresh(path string) bool {
	if c.ttl <= 0 {
		return true
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < c.ttl
}

// IsCached reports whether a fresh artifact exists for the track.
func (c *Cache) IsCached(trackID string) bool {
	path := c.Path(trackID)
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return c.IsFresh(path)
}

// Place moves a finished artifact from srcPath into the cache slot for
// trackID and returns the final path. Falls back to copy+remove when the
// source lives on another filesystem.
func (c *Cache) Place(srcPath, trackID string) (string, error) {
	if err := c.EnsureDir(); err != nil {
		return "", err
	}

	dest := c.Path(trackID)
	if err := os.Rename(srcPath, dest); err == nil {
		return dest, nil
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open artifact %s: %w", srcPath, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create cache entry: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dest)
		return "", fmt.Errorf("write cache entry: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("close cache entry: %w", err)
	}
	os.Remove(srcPath)

	return dest, nil
}

// Remove deletes the track's cache entry, tolerating a missing file.
func (c *Cache) Remove(trackID string) error {
	if err := os.Remove(c.Path(trackID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

// Sweep deletes expired artifacts and returns how many were removed.
// With TTL disabled it is a no-op.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	if c.ttl <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read cache dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".opus") {
			continue
		}

		path := filepath.Join(c.dir, entry.Name())
		if c.IsFresh(path) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn().Err(err).Str("path", path).Msg("sweep remove failed")
			continue
		}
		removed++
	}

	if removed > 0 {
		c.logger.Info().Int("removed", removed).Msg("swept expired opus artifacts")
	}
	return removed, nil
}
