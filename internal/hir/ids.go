package hir

// ModuleID indexes a module inside a World.
type ModuleID uint32

// NoModuleID marks an unresolved module reference.
const NoModuleID ModuleID = ^ModuleID(0)

// ExprID indexes the module's expression arena.
type ExprID uint32

// NoExprID marks the absence of an expression.
const NoExprID ExprID = 0

// StmtID indexes the module's statement arena.
type StmtID uint32

// BindingID indexes a module's top-level binding list.
type BindingID uint32

// FuncID indexes a module's lifted function list.
type FuncID uint32

// NoFuncID marks the absence of a function.
const NoFuncID FuncID = ^FuncID(0)

// LocalID indexes a function's local slots.
type LocalID uint32

// NoLocalID marks the absence of a local.
const NoLocalID LocalID = ^LocalID(0)
