package comptime

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"

	"capy/internal/types"
)

// Cache persists comptime values at <dir>/comptime/<content-hash>.bin
// in the CPYC format:
//
//	magic    "CPYC"
//	version  u32
//	type_id  u32
//	byte_len u32
//	bytes    ...
//
// All fields little-endian. Entries whose type id no longer matches
// the current compilation are ignored.
type Cache struct {
	dir string
}

const (
	cacheMagic   = "CPYC"
	cacheVersion = uint32(1)
	headerSize   = 4 + 4 + 4 + 4
)

// OpenCache prepares the cache directory under base.
func OpenCache(base string) (*Cache, error) {
	dir := filepath.Join(base, "comptime")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) pathFor(key [32]byte) string {
	return filepath.Join(c.dir, hex.EncodeToString(key[:])+".bin")
}

// Get reads a cached value; ok is false on miss, version skew, or
// type-id mismatch.
func (c *Cache) Get(key [32]byte, ty types.TypeID) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	data, err := os.ReadFile(c.pathFor(key))
	if err != nil || len(data) < headerSize {
		return nil, false
	}
	if string(data[:4]) != cacheMagic {
		return nil, false
	}
	if binary.LittleEndian.Uint32(data[4:]) != cacheVersion {
		return nil, false
	}
	if types.TypeID(binary.LittleEndian.Uint32(data[8:])) != ty {
		return nil, false
	}
	n := int(binary.LittleEndian.Uint32(data[12:]))
	if len(data) < headerSize+n {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, data[headerSize:])
	return out, true
}

// Put writes a value; failures are silent (the cache is advisory).
func (c *Cache) Put(key [32]byte, ty types.TypeID, bytes []byte) {
	if c == nil {
		return
	}
	buf := make([]byte, headerSize+len(bytes))
	copy(buf, cacheMagic)
	binary.LittleEndian.PutUint32(buf[4:], cacheVersion)
	binary.LittleEndian.PutUint32(buf[8:], uint32(ty))
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(bytes)))
	copy(buf[headerSize:], bytes)

	tmp, err := os.CreateTemp(c.dir, "tmp-*")
	if err != nil {
		return
	}
	name := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(name)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return
	}
	_ = os.Rename(name, c.pathFor(key))
}

func hashContent(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
