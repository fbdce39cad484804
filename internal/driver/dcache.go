package driver

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Current schema version; bump when the payload format changes.
const diskCacheSchemaVersion uint16 = 1

// Digest is a sha256 content hash.
type Digest [32]byte

// DiskCache stores per-file metadata keyed by content hash, so warm
// builds can prefetch a file's imports before reparsing it.
// Thread-safe for concurrent access.
type DiskCache struct {
	mu  sync.RWMutex
	dir string
}

// FileMeta is the cached metadata for one source file.
type FileMeta struct {
	Schema uint16

	Name        string
	Path        string
	ImportPaths []string
	ImportMods  []string

	// Broken records whether the file produced diagnostics.
	Broken bool
}

// OpenDiskCache initializes a cache under base (usually the user
// cache dir).
func OpenDiskCache(base string) (*DiskCache, error) {
	dir := filepath.Join(base, "meta")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir}, nil
}

func (c *DiskCache) pathFor(key Digest) string {
	return filepath.Join(c.dir, hex.EncodeToString(key[:])+".mp")
}

// Put serializes and writes a payload, atomically.
func (c *DiskCache) Put(key Digest, meta *FileMeta) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	meta.Schema = diskCacheSchemaVersion
	f, err := os.CreateTemp(c.dir, "tmp-*")
	if err != nil {
		return err
	}
	name := f.Name()
	enc := msgpack.NewEncoder(f)
	if err := enc.Encode(meta); err != nil {
		f.Close()
		os.Remove(name)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, c.pathFor(key)); err != nil {
		os.Remove(name)
		return fmt.Errorf("dcache rename: %w", err)
	}
	return nil
}

// Get reads a payload; ok is false on miss or schema skew.
func (c *DiskCache) Get(key Digest, out *FileMeta) bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		return false
	}
	defer f.Close()
	dec := msgpack.NewDecoder(f)
	if err := dec.Decode(out); err != nil {
		return false
	}
	return out.Schema == diskCacheSchemaVersion
}
