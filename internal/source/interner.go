package source

import (
	"slices"
)

// StringID is a dense 32-bit key for an interned string.
type StringID uint32

// NoStringID marks the absence of an interned string.
const NoStringID StringID = 0

// Interner deduplicates identifiers and string literals into stable
// 32-bit keys. Entries are never removed; the backing strings stay
// valid for the life of the compilation.
type Interner struct {
	byID  []string // byID[0] = "" for NoStringID
	index map[string]StringID
}

func NewInterner() *Interner {
	return &Interner{
		byID:  []string{""},
		index: map[string]StringID{"": 0},
	}
}

// Intern returns the key for s, inserting it on first sight.
func (in *Interner) Intern(s string) StringID {
	if id, ok := in.index[s]; ok {
		return id
	}
	// Copy so the interner does not pin the caller's backing buffer.
	cpy := string([]byte(s))
	id := StringID(len(in.byID))
	in.byID = append(in.byID, cpy)
	in.index[cpy] = id
	return id
}

// InternBytes interns raw bytes without an intermediate allocation on
// the hit path.
func (in *Interner) InternBytes(b []byte) StringID {
	if id, ok := in.index[string(b)]; ok {
		return id
	}
	return in.Intern(string(b))
}

// Lookup returns the canonical string for id.
func (in *Interner) Lookup(id StringID) (string, bool) {
	if !in.Has(id) {
		return "", false
	}
	return in.byID[id], true
}

// MustLookup panics on an invalid id.
func (in *Interner) MustLookup(id StringID) string {
	s, ok := in.Lookup(id)
	if !ok {
		panic("source: invalid StringID")
	}
	return s
}

// Has reports whether id is a valid key.
func (in *Interner) Has(id StringID) bool {
	return int(id) < len(in.byID)
}

// Len counts interned strings, NoStringID included.
func (in *Interner) Len() int {
	return len(in.byID)
}

// Snapshot returns a copy of all interned strings, indexed by key.
func (in *Interner) Snapshot() []string {
	return slices.Clone(in.byID)
}
