package hir

import (
	"capy/internal/ast"
	"capy/internal/source"
)

// ExprKind discriminates arena expression nodes.
type ExprKind uint8

const (
	ExprInvalid ExprKind = iota

	ExprIntLit    // Int (value), Str (raw spelling)
	ExprFloatLit  // Float
	ExprStringLit // Str
	ExprCharLit   // Int (code point)
	ExprBoolLit   // Int (0/1)

	ExprLocal      // Local
	ExprGlobal     // Global
	ExprBuiltin    // Builtin
	ExprUnresolved // Name; typed as the error type downstream

	ExprBinary // BinOp, X, Y
	ExprUnary  // UnOp, X
	ExprAddrOf // Mut, X — address-of a value, or pointer type over a type value
	ExprDeref  // X

	ExprCall      // X (callee), List (args)
	ExprIndex     // X, Y
	ExprMember    // X, Name
	ExprCast      // X (type), Y (value)
	ExprStructLit // X (type), Fields
	ExprArrayLit  // X (element type), List

	ExprBlock    // Stmts, Tail (NoExprID when void), Defers
	ExprIf       // X (cond), Y (then block), Z (else, NoExprID when absent)
	ExprComptime // X (block)
	ExprFunc     // Func — a lifted lambda or fn binding value

	ExprFuncType     // List (param types), X (result, NoExprID → void)
	ExprArrayType    // X (len, NoExprID → slice), Y (element)
	ExprDistinctType // X (base)
	ExprStructType   // Fields (with TypeExpr)
	ExprEnumType     // Variants
	ExprImportRef    // Module
)

// GlobalRef names a top-level binding, possibly in another module.
type GlobalRef struct {
	Module  ModuleID
	Binding BindingID
}

// FieldInit is one member of a struct literal or declaration.
type FieldInit struct {
	Name     source.StringID
	NameSpan source.Span
	Value    ExprID // literal value, or the field type for ExprStructType
}

// VariantDecl is one arm of an enum type expression.
type VariantDecl struct {
	Name         source.StringID
	NameSpan     source.Span
	Payload      ExprID // NoExprID → void payload
	Discriminant int16  // -1 → positional default
}

// Expr is one arena node. Payload fields are sparse by kind; see the
// kind constants for which fields are meaningful.
type Expr struct {
	Kind ExprKind
	Span source.Span

	X, Y, Z ExprID
	List    []ExprID
	Stmts   []StmtID
	Defers  []ExprID // scope trailers, flushed LIFO on every exit edge
	Fields  []FieldInit
	Variants []VariantDecl

	Name    source.StringID
	Local   LocalID
	Global  GlobalRef
	Builtin Builtin
	Module  ModuleID
	Func    FuncID

	BinOp ast.BinOp
	UnOp  ast.UnOp
	Mut   bool

	Int   uint64
	Float float64
	Str   string
}
