package token

import (
	"fmt"

	"capy/internal/source"
)

// Token is one lexical unit of a source file.
type Token struct {
	Kind Kind
	Span source.Span
	Text []byte // slice of the original source
}

func (t Token) String() string {
	switch t.Kind {
	case Ident, IntLit, FloatLit, StringLit, CharLit, Directive:
		return fmt.Sprintf("%s(%s)", t.Kind, t.Text)
	default:
		return t.Kind.String()
	}
}

// Is reports whether the token has any of the given kinds.
func (t Token) Is(kinds ...Kind) bool {
	for _, k := range kinds {
		if t.Kind == k {
			return true
		}
	}
	return false
}
