// Package dashboard answers the analytics queries over persisted tables.
package dashboard

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/matsen/scholartab/internal/export"
	"github.com/matsen/scholartab/internal/paper"
)

// Cache holds tables read from a processed directory. Each CSV file is
// cached under its path and reread only when its size or mtime changes.
// Safe for concurrent use.
type Cache struct {
	dir    string
	files  *lru.Cache[string, *entry]
	logger zerolog.Logger

	mu    sync.Mutex
	snap  *Snapshot
	loads int
}

type entry struct {
	size    int64
	modTime time.Time
	tables  *paper.Tables
}

// NewCache returns a cache over the CSV tables in dir holding at most
// size files. Sizes below the table count are raised to it, since every
// snapshot touches each table once.
func NewCache(dir string, size int, logger zerolog.Logger) (*Cache, error) {
	size = max(size, len(paper.TableNames))
	files, err := lru.New[string, *entry](size)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	return &Cache{
		dir:    dir,
		files:  files,
		logger: logger.With().Str("component", "dashboard").Logger(),
	}, nil
}

// Snapshot returns the current tables and their query index. The same
// snapshot is returned until one of the files changes.
func (c *Cache) Snapshot() (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &paper.Tables{}
	changed := c.snap == nil
	for _, name := range paper.TableNames {
		e, reloaded, err := c.file(name)
		if err != nil {
			return nil, err
		}
		changed = changed || reloaded
		if err := t.CopyTable(name, e.tables); err != nil {
			return nil, err
		}
	}

	if changed {
		c.snap = NewSnapshot(t)
	}
	return c.snap, nil
}

// Loads returns how many times a file has been read from disk.
func (c *Cache) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

func (c *Cache) file(name string) (*entry, bool, error) {
	path := export.CSVPath(c.dir, name)

	var size int64 = -1
	var modTime time.Time
	info, err := os.Stat(path)
	switch {
	case err == nil:
		size, modTime = info.Size(), info.ModTime()
	case !errors.Is(err, os.ErrNotExist):
		return nil, false, fmt.Errorf("checking %s: %w", path, err)
	}

	if e, ok := c.files.Get(path); ok && e.size == size && e.modTime.Equal(modTime) {
		return e, false, nil
	}

	t := &paper.Tables{}
	if size >= 0 {
		if err := export.ReadTableCSV(path, name, t); err != nil {
			return nil, false, err
		}
		c.loads++
		c.logger.Debug().Str("path", path).Int64("size", size).Msg("table loaded")
	}

	e := &entry{size: size, modTime: modTime, tables: t}
	c.files.Add(path, e)
	return e, true, nil
}
