// Package cache is a content-addressed disk store for downloaded sky tiles.
// Entries are keyed by a hash of the request parameters; metadata for all
// entries lives in a single JSON document that is rewritten atomically on
// every mutation.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// minEntrySize is the smallest blob accepted as a plausible image tile.
// Survey servers answer some errors with tiny HTML bodies.
const minEntrySize = 1024

const metadataFile = "metadata.json"

// Query identifies a tile request. Two queries with the same fields address
// the same cache entry.
type Query struct {
	RADeg  float64
	DecDeg float64
	Width  int
	Height int
	Survey string
	Format string
}

// Key returns the entry key: an xxhash over the canonical rendering of the
// query fields. Coordinates are rendered at fixed precision so float noise
// below the pixelization scale cannot split entries.
func (q Query) Key() string {
	canonical := fmt.Sprintf("%.6f_%.6f_%d_%d_%s_%s",
		q.RADeg, q.DecDeg, q.Width, q.Height, q.Survey, q.Format)
	return fmt.Sprintf("%016x", xxhash.Sum64String(canonical))
}

// Entry is the metadata record for one cached tile.
type Entry struct {
	Key         string    `json:"key"`
	RADeg       float64   `json:"ra_deg"`
	DecDeg      float64   `json:"dec_deg"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Survey      string    `json:"survey"`
	Format      string    `json:"format"`
	Size        int64     `json:"size"`
	Created     time.Time `json:"created"`
	LastAccess  time.Time `json:"last_access"`
	AccessCount int64     `json:"access_count"`
}

// CorruptionError reports a cache hit whose blob failed validation. The
// entry is already deleted when this is returned; the caller refetches.
type CorruptionError struct {
	Key    string
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("cache: entry %s corrupt: %s", e.Key, e.Reason)
}

// Stats summarizes cache contents.
type Stats struct {
	Entries     int       `json:"entries"`
	TotalBytes  int64     `json:"total_bytes"`
	TotalHits   int64     `json:"total_hits"`
	OldestEntry time.Time `json:"oldest_entry,omitempty"`
}

// Cache is a disk-backed tile store. Safe for concurrent use; reads share a
// lock, mutations serialize.
type Cache struct {
	mu      sync.RWMutex
	dir     string
	entries map[string]*Entry
}

// Open loads or initializes a cache rooted at dir. A missing or unreadable
// metadata document starts the cache empty rather than failing: blobs
// without metadata are unreachable and get cleaned by eviction.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	c := &Cache{dir: dir, entries: make(map[string]*Entry)}

	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err == nil {
		var list []*Entry
		if json.Unmarshal(data, &list) == nil {
			for _, e := range list {
				c.entries[e.Key] = e
			}
		}
	}
	return c, nil
}

// Dir returns the cache root directory.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) blobPath(key, format string) string {
	return filepath.Join(c.dir, key+"."+format)
}

// Get returns the cached blob for the query, or ok=false on a miss. A hit
// bumps the access metadata. A hit whose blob fails validation is deleted
// and returned as a CorruptionError; the caller should refetch.
func (c *Cache) Get(q Query) ([]byte, bool, error) {
	key := q.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}

	data, err := os.ReadFile(c.blobPath(key, entry.Format))
	if err != nil {
		c.dropLocked(key)
		return nil, false, &CorruptionError{Key: key, Reason: "blob unreadable"}
	}
	if reason := validate(data, entry.Format); reason != "" {
		c.dropLocked(key)
		return nil, false, &CorruptionError{Key: key, Reason: reason}
	}

	entry.LastAccess = time.Now()
	entry.AccessCount++
	if err := c.saveLocked(); err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Put stores a blob for the query, overwriting any existing entry. The blob
// is validated before anything touches disk.
func (c *Cache) Put(q Query, data []byte) error {
	if reason := validate(data, q.Format); reason != "" {
		return fmt.Errorf("cache: refusing to store %s tile: %s", q.Format, reason)
	}
	key := q.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.WriteFile(c.blobPath(key, q.Format), data, 0o644); err != nil {
		return fmt.Errorf("cache: write blob: %w", err)
	}
	now := time.Now()
	c.entries[key] = &Entry{
		Key:    key,
		RADeg:  q.RADeg,
		DecDeg: q.DecDeg,
		Width:  q.Width,
		Height: q.Height,
		Survey: q.Survey,
		Format: q.Format,
		Size:   int64(len(data)),
		Created: now, LastAccess: now, AccessCount: 0,
	}
	return c.saveLocked()
}

// EvictOlderThan removes entries whose last access is older than maxAge and
// returns how many were removed.
func (c *Cache) EvictOlderThan(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if e.LastAccess.Before(cutoff) {
			c.dropLocked(key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, c.saveLocked()
}

// Clear removes every entry.
func (c *Cache) Clear() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := len(c.entries)
	for key := range c.entries {
		c.dropLocked(key)
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, c.saveLocked()
}

// Stats summarizes the current contents.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var s Stats
	s.Entries = len(c.entries)
	for _, e := range c.entries {
		s.TotalBytes += e.Size
		s.TotalHits += e.AccessCount
		if s.OldestEntry.IsZero() || e.Created.Before(s.OldestEntry) {
			s.OldestEntry = e.Created
		}
	}
	return s
}

// Entries returns a snapshot of all metadata records.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	return out
}

// dropLocked removes an entry and its blob. Caller holds the write lock and
// is responsible for persisting metadata afterwards.
func (c *Cache) dropLocked(key string) {
	if e, ok := c.entries[key]; ok {
		os.Remove(c.blobPath(key, e.Format))
		delete(c.entries, key)
	}
}

// saveLocked rewrites the metadata document atomically: temp file in the
// same directory, fsync, rename.
func (c *Cache) saveLocked() error {
	list := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		list = append(list, e)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: marshal metadata: %w", err)
	}

	target := filepath.Join(c.dir, metadataFile)
	tmp, err := os.CreateTemp(c.dir, metadataFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("cache: temp metadata: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: write metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: sync metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("cache: replace metadata: %w", err)
	}
	return nil
}

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47}
)

// validate returns an empty string for a plausible image blob, or the
// reason it is rejected.
func validate(data []byte, format string) string {
	if len(data) == 0 {
		return "empty"
	}
	if len(data) < minEntrySize {
		return fmt.Sprintf("only %d bytes", len(data))
	}
	switch format {
	case "jpg", "jpeg":
		if !bytes.HasPrefix(data, jpegMagic) {
			return "missing JPEG signature"
		}
	case "png":
		if !bytes.HasPrefix(data, pngMagic) {
			return "missing PNG signature"
		}
	}
	return ""
}
