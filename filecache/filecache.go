// Package filecache memoizes the parse of files that change rarely. A file is
// reparsed only when its modification time or size differs from the cached
// snapshot.
package filecache

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchellh/copystructure"
	"github.com/spf13/afero"
	"github.com/stephnangue/profilebridge/logger"
)

// ParseFunc turns file contents into records.
type ParseFunc[T any] func(data []byte) (T, error)

// Stats reports cache activity since construction.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Parses  uint64 `json:"parses"`
	Entries int    `json:"entries"`
}

type entry[T any] struct {
	mu      sync.Mutex
	loaded  bool
	modTime time.Time
	size    int64
	records T
}

// Cache is a read-through cache of parsed files keyed by path.
type Cache[T any] struct {
	fs     afero.Fs
	parse  ParseFunc[T]
	logger *logger.GatedLogger

	mu      sync.Mutex
	entries map[string]*entry[T]

	hits   atomic.Uint64
	misses atomic.Uint64
	parses atomic.Uint64
}

// New creates a cache reading through fsys. A nil logger discards output.
func New[T any](fsys afero.Fs, parse ParseFunc[T], log *logger.GatedLogger) *Cache[T] {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Cache[T]{
		fs:      fsys,
		parse:   parse,
		logger:  log,
		entries: make(map[string]*entry[T]),
	}
}

// Get returns the records parsed from path. The file is stat'ed once per call
// and read only when it changed. A missing file yields the zero value and no
// error. The returned value is a deep copy of the cached snapshot.
func (c *Cache[T]) Get(path string) (T, error) {
	var zero T

	info, err := c.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.Invalidate(path)
			return zero, nil
		}
		return zero, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return zero, fmt.Errorf("%s is a directory", path)
	}

	e := c.entryFor(path)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		c.hits.Add(1)
		return deepCopy(e.records)
	}
	c.misses.Add(1)

	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			e.loaded = false
			return zero, nil
		}
		return zero, fmt.Errorf("failed to read %s: %w", path, err)
	}

	records, err := c.parse(data)
	c.parses.Add(1)
	if err != nil {
		return zero, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// Replace the snapshot wholesale so readers never see a partial parse.
	e.records = records
	e.modTime = info.ModTime()
	e.size = info.Size()
	e.loaded = true

	c.logger.Debug("file parsed",
		logger.String("path", path),
		logger.Int64("size", info.Size()),
		logger.Time("mod_time", info.ModTime()),
	)

	return deepCopy(records)
}

func (c *Cache[T]) entryFor(path string) *entry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		e = &entry[T]{}
		c.entries[path] = e
	}
	return e
}

// Invalidate drops the snapshot for path.
func (c *Cache[T]) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// Clear drops every snapshot.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry[T])
	c.mu.Unlock()
}

func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Parses:  c.parses.Load(),
		Entries: n,
	}
}

func deepCopy[T any](v T) (T, error) {
	cp, err := copystructure.Copy(v)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to copy cached records: %w", err)
	}
	if cp == nil {
		var zero T
		return zero, nil
	}
	return cp.(T), nil
}
