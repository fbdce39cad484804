package source

import "testing"

func TestInternerDeduplicates(t *testing.T) {
	in := NewInterner()
	a := in.Intern("main")
	b := in.Intern("main")
	if a != b {
		t.Fatalf("same string must intern to same id: %d vs %d", a, b)
	}
	c := in.InternBytes([]byte("main"))
	if c != a {
		t.Fatalf("InternBytes must agree with Intern: %d vs %d", c, a)
	}
}

func TestInternerEmptyStringIsNoStringID(t *testing.T) {
	in := NewInterner()
	if got := in.Intern(""); got != NoStringID {
		t.Fatalf("empty string should be NoStringID, got %d", got)
	}
	if in.Len() != 1 {
		t.Fatalf("fresh interner should hold exactly the empty string, len=%d", in.Len())
	}
}

func TestInternerLookupRoundTrip(t *testing.T) {
	in := NewInterner()
	id := in.Intern("distinct")
	s, ok := in.Lookup(id)
	if !ok || s != "distinct" {
		t.Fatalf("lookup mismatch: %q ok=%v", s, ok)
	}
	if _, ok := in.Lookup(StringID(9999)); ok {
		t.Fatal("lookup of unknown id must fail")
	}
}

func TestInternerAssignsDenseKeys(t *testing.T) {
	in := NewInterner()
	first := in.Intern("a")
	second := in.Intern("b")
	if second != first+1 {
		t.Fatalf("keys must be dense: %d then %d", first, second)
	}
}
