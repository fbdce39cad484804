package hir

import (
	"fmt"
	"strconv"
	"strings"

	"capy/internal/ast"
	"capy/internal/diag"
	"capy/internal/source"
)

// ImportResolver maps an import directive to a lowered module. The
// driver wires this to the module graph; tests stub it out.
type ImportResolver func(kind ast.ImportKind, path string, sp source.Span) (ModuleID, bool)

// Lowerer turns one parsed file into a Module.
type Lowerer struct {
	world    *World
	mod      *Module
	reporter diag.Reporter
	builtins *builtinTable
	resolver ImportResolver

	scopes   []scope
	funcMark []int // scope depth at each function entry, for capture checks
	fnStack  []string
	liftSeq  int
}

type scope struct {
	names map[source.StringID]LocalID
}

// LowerFile lowers file into a fresh module registered in world.
func LowerFile(world *World, file *ast.File, name string, resolver ImportResolver, reporter diag.Reporter) *Module {
	if reporter == nil {
		reporter = diag.NopReporter{}
	}
	mod := &Module{
		ID:     ModuleID(len(world.Modules)),
		File:   file.FileID,
		Name:   name,
		ByName: make(map[source.StringID]BindingID),
	}
	// Reserve id 0 of both arenas as invalid sentinels.
	mod.addExpr(Expr{Kind: ExprInvalid})
	mod.addStmt(Stmt{Kind: StmtInvalid})
	world.Modules = append(world.Modules, mod)

	lw := &Lowerer{
		world:    world,
		mod:      mod,
		reporter: reporter,
		builtins: newBuiltinTable(world.Strings),
		resolver: resolver,
	}

	// Register every top-level name first so definitions may refer
	// forward; a later duplicate replaces the entry when lowering
	// passes it, which gives the in-between references the earlier
	// definition (shadowing is not retroactive).
	for i, item := range file.Items {
		if _, taken := mod.ByName[item.Name]; !taken {
			mod.ByName[item.Name] = BindingID(i)
		}
		mod.Bindings = append(mod.Bindings, Binding{
			Name:      item.Name,
			NameSpan:  item.NameSpan,
			Span:      item.Span,
			Mutable:   item.Kind == ast.BindVar,
			ConstForm: item.Kind == ast.BindConst,
		})
	}

	for i, item := range file.Items {
		mod.ByName[item.Name] = BindingID(i)
		b := &mod.Bindings[i]
		if item.Type != nil {
			b.Type = lw.lowerExpr(item.Type)
		}
		if item.Init != nil {
			b.Init = lw.lowerInit(item.Init, lw.bindingFuncName(item))
		}
	}
	return mod
}

func (lw *Lowerer) bindingFuncName(item *ast.Binding) string {
	name, _ := lw.world.Strings.Lookup(item.Name)
	return name
}

// lowerInit lowers a top-level initializer. Lambda initializers become
// named functions; everything else lowers as a plain expression.
func (lw *Lowerer) lowerInit(e ast.Expr, name string) ExprID {
	if fn, ok := e.(*ast.Lambda); ok {
		return lw.lowerFunc(fn, name)
	}
	return lw.lowerExpr(e)
}

func (lw *Lowerer) lowerFunc(fn *ast.Lambda, name string) ExprID {
	id := FuncID(len(lw.mod.Funcs))
	lw.mod.Funcs = append(lw.mod.Funcs, Func{
		Name:   name,
		Span:   fn.Span(),
		Extern: fn.Extern,
	})

	lw.pushScope()
	lw.funcMark = append(lw.funcMark, len(lw.scopes)-1)
	lw.fnStack = append(lw.fnStack, name)

	var params []LocalID
	for _, prm := range fn.Params {
		local := lw.mod.addLocal(Local{
			Name:    prm.Name,
			Span:    prm.NameSpan,
			Mutable: false,
			Type:    lw.lowerExpr(prm.Type),
			IsParam: true,
		})
		lw.declare(prm.Name, local)
		params = append(params, local)
	}
	lw.mod.Funcs[id].Params = params
	if fn.Result != nil {
		lw.mod.Funcs[id].Result = lw.lowerExpr(fn.Result)
	}
	if fn.Body != nil {
		lw.mod.Funcs[id].Body = lw.lowerBlock(fn.Body)
	}

	lw.fnStack = lw.fnStack[:len(lw.fnStack)-1]
	lw.funcMark = lw.funcMark[:len(lw.funcMark)-1]
	lw.popScope()

	return lw.mod.addExpr(Expr{Kind: ExprFunc, Span: fn.Span(), Func: id})
}

// liftLambda lowers a lambda in expression position with a
// synthesized name derived from the enclosing function.
func (lw *Lowerer) liftLambda(fn *ast.Lambda) ExprID {
	outer := "anon"
	if len(lw.fnStack) > 0 {
		outer = lw.fnStack[len(lw.fnStack)-1]
	}
	lw.liftSeq++
	return lw.lowerFunc(fn, fmt.Sprintf("%s.fn%d", outer, lw.liftSeq-1))
}

func (lw *Lowerer) pushScope() {
	lw.scopes = append(lw.scopes, scope{names: make(map[source.StringID]LocalID, 8)})
}

func (lw *Lowerer) popScope() {
	lw.scopes = lw.scopes[:len(lw.scopes)-1]
}

func (lw *Lowerer) declare(name source.StringID, id LocalID) {
	lw.scopes[len(lw.scopes)-1].names[name] = id
}

// lookupLocal resolves name against the scope stack. The second result
// is false when the nearest hit lives outside the current function —
// lambdas have an empty capture set, so that is a resolution error.
func (lw *Lowerer) lookupLocal(name source.StringID) (LocalID, bool, bool) {
	mark := 0
	if len(lw.funcMark) > 0 {
		mark = lw.funcMark[len(lw.funcMark)-1]
	}
	for i := len(lw.scopes) - 1; i >= 0; i-- {
		if id, ok := lw.scopes[i].names[name]; ok {
			return id, i >= mark, true
		}
	}
	return NoLocalID, false, false
}

func (lw *Lowerer) errorf(code diag.Code, sp source.Span, format string, args ...any) {
	lw.reporter.Report(code, diag.SevError, sp, fmt.Sprintf(format, args...), nil)
}

// parseIntText decodes an integer literal spelling (with base prefix
// and '_' separators).
func parseIntText(text string) (uint64, error) {
	clean := strings.ReplaceAll(text, "_", "")
	return strconv.ParseUint(clean, 0, 64)
}

func parseFloatText(text string) (float64, error) {
	clean := strings.ReplaceAll(text, "_", "")
	return strconv.ParseFloat(clean, 64)
}
