package decisions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// FileCache keeps decisions in a JSON file that is rewritten on every change,
// so decisions survive between batch runs
type FileCache struct {
	mu      sync.Mutex
	fs      afero.Fs
	path    string
	entries map[string]Entry
}

// NewFileCache loads path if it exists. A missing file starts an empty cache.
func NewFileCache(fs afero.Fs, path string) (*FileCache, error) {
	c := &FileCache{fs: fs, path: path, entries: make(map[string]Entry)}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("decisions: read %s: %w", path, err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &c.entries); err != nil {
			return nil, fmt.Errorf("decisions: parse %s: %w", path, err)
		}
	}
	return c, nil
}

func (c *FileCache) Get(_ context.Context, key string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (c *FileCache) Put(_ context.Context, key string, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, existed := c.entries[key]
	c.entries[key] = entry
	if err := c.flushLocked(); err != nil {
		if existed {
			c.entries[key] = prev
		} else {
			delete(c.entries, key)
		}
		return err
	}
	return nil
}

func (c *FileCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, existed := c.entries[key]
	if !existed {
		return nil
	}
	delete(c.entries, key)
	if err := c.flushLocked(); err != nil {
		c.entries[key] = prev
		return err
	}
	return nil
}

func (c *FileCache) flushLocked() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("decisions: encode: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := c.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("decisions: create %s: %w", dir, err)
		}
	}

	tmp := c.path + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("decisions: write %s: %w", tmp, err)
	}
	if err := c.fs.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("decisions: replace %s: %w", c.path, err)
	}
	return nil
}
