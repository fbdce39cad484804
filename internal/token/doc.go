// Package token defines lexical token kinds for the Capy compiler.
// Invariants:
//   - Token.Text is a slice of the original source (no copies).
//   - Token.Span matches Text exactly (Start..End).
//   - Directives (#import, #mod, builtins spelled with '#') are lexed as
//     a single Directive token whose Text includes the leading '#'.
//   - Built-in type names (i32, usize, str, ...) are identifiers; they
//     are recognized by the semantic layer, not the lexer.
package token
