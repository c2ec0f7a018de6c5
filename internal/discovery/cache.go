package discovery

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/testdeck/internal/definition"
)

// parseCache keeps parsed definitions between scans so unchanged files are not
// decoded again.
type parseCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	modTime time.Time
	size    int64
	sum     string
	file    *definition.File
}

func newParseCache() *parseCache {
	return &parseCache{entries: make(map[string]cacheEntry)}
}

// load returns the parsed definition for path. A file whose mtime and size are
// unchanged is served from cache; otherwise the content hash decides.
func (c *parseCache) load(path string, info fs.FileInfo, force bool) (*definition.File, bool, error) {
	c.mu.Lock()
	entry, ok := c.entries[path]
	c.mu.Unlock()

	if ok && !force && entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
		return entry.file, true, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.forget(path)
		return nil, false, err
	}
	sum := checksum(data)

	if ok && !force && entry.sum == sum {
		entry.modTime = info.ModTime()
		entry.size = info.Size()
		c.store(path, entry)
		return entry.file, true, nil
	}

	file, err := definition.Parse(path, data)
	if err != nil {
		c.forget(path)
		return nil, false, err
	}

	c.store(path, cacheEntry{modTime: info.ModTime(), size: info.Size(), sum: sum, file: file})
	return file, false, nil
}

// retain drops entries for paths not seen in the latest scan.
func (c *parseCache) retain(seen map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for path := range c.entries {
		if !seen[path] {
			delete(c.entries, path)
		}
	}
}

func (c *parseCache) store(path string, entry cacheEntry) {
	c.mu.Lock()
	c.entries[path] = entry
	c.mu.Unlock()
}

func (c *parseCache) forget(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

func (c *parseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
