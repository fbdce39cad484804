package token

var keywords = map[string]Kind{
	"comptime": KwComptime,
	"distinct": KwDistinct,
	"struct":   KwStruct,
	"enum":     KwEnum,
	"mut":      KwMut,
	"if":       KwIf,
	"else":     KwElse,
	"while":    KwWhile,
	"return":   KwReturn,
	"break":    KwBreak,
	"continue": KwContinue,
	"defer":    KwDefer,
	"switch":   KwSwitch,
	"in":       KwIn,
	"extern":   KwExtern,
	"true":     KwTrue,
	"false":    KwFalse,
}

// LookupKeyword reports whether ident is a reserved word. Keywords are
// case-sensitive; only the lowercase spellings are reserved.
func LookupKeyword(ident string) (Kind, bool) {
	k, ok := keywords[ident]
	return k, ok
}
