package driver

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"capy/internal/ast"
	"capy/internal/diag"
	"capy/internal/hir"
	"capy/internal/parser"
	"capy/internal/project"
	"capy/internal/source"

	coremod "capy/core"
)

type importEdge struct {
	Kind     ast.ImportKind
	Raw      string
	Span     source.Span
	Resolved string // absolute path; empty when unresolved
}

type fileNode struct {
	Path    string
	Name    string
	File    *source.File
	AST     *ast.File
	Imports []importEdge
}

// loader builds the module graph: depth-first over imports, post-order
// for lowering so every dependency is a known module first.
type loader struct {
	fs       *source.FileSet
	strs     *source.Interner
	reporter diag.Reporter
	modDir   string
	dcache   *DiskCache

	nodes map[string]*fileNode
	order []string
	state map[string]uint8 // 1 = visiting, 2 = done

	prefetchMu sync.Mutex
	prefetched map[string][]byte
}

const (
	visiting = 1
	done     = 2
)

func newLoader(fs *source.FileSet, strs *source.Interner, reporter diag.Reporter, modDir string, dcache *DiskCache) *loader {
	return &loader{
		fs:         fs,
		strs:       strs,
		reporter:   reporter,
		modDir:     modDir,
		dcache:     dcache,
		nodes:      make(map[string]*fileNode),
		state:      make(map[string]uint8),
		prefetched: make(map[string][]byte),
	}
}

// prefetch reads files concurrently ahead of the sequential parse.
func (ld *loader) prefetch(paths []string) {
	if len(paths) == 0 {
		return
	}
	var g errgroup.Group
	for _, p := range paths {
		ld.prefetchMu.Lock()
		_, have := ld.prefetched[p]
		ld.prefetchMu.Unlock()
		if have {
			continue
		}
		p := p
		g.Go(func() error {
			content, err := os.ReadFile(p) // #nosec G304 -- resolved module path
			if err != nil {
				return nil // the sequential pass reports missing files
			}
			ld.prefetchMu.Lock()
			ld.prefetched[p] = content
			ld.prefetchMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

func (ld *loader) readFile(path string) (source.FileID, error) {
	ld.prefetchMu.Lock()
	content, ok := ld.prefetched[path]
	ld.prefetchMu.Unlock()
	if ok {
		return ld.fs.Add(path, content, 0), nil
	}
	return ld.fs.Load(path)
}

// load runs the DFS from path (absolute).
func (ld *loader) load(path string, from source.Span) error {
	switch ld.state[path] {
	case done:
		return nil
	case visiting:
		ld.reporter.Report(diag.NameNotAModule, diag.SevError, from,
			fmt.Sprintf("import cycle through %s", filepath.Base(path)), nil)
		return nil
	}
	ld.state[path] = visiting

	id, err := ld.readFile(path)
	if err != nil {
		ld.state[path] = done
		return fmt.Errorf("cannot read %s: %w", path, err)
	}
	file := ld.fs.Get(id)

	// Warm builds: the metadata cache knows this file's imports, so
	// their reads can start before parsing finishes.
	if ld.dcache != nil {
		var meta FileMeta
		if ld.dcache.Get(Digest(sha256.Sum256(file.Content)), &meta) {
			var ahead []string
			ahead = append(ahead, meta.ImportPaths...)
			for _, m := range meta.ImportMods {
				if p, err := ld.resolveMod(m); err == nil {
					ahead = append(ahead, p)
				}
			}
			ld.prefetch(ahead)
		}
	}

	astFile := parser.ParseFile(file, ld.strs, ld.reporter)
	node := &fileNode{
		Path: path,
		Name: moduleName(path),
		File: file,
		AST:  astFile,
	}
	ld.nodes[path] = node

	node.Imports = ld.scanImports(astFile, filepath.Dir(path))
	ld.storeMeta(file, node)

	for _, edge := range node.Imports {
		if edge.Resolved == "" {
			continue
		}
		if err := ld.load(edge.Resolved, edge.Span); err != nil {
			ld.reporter.Report(diag.NameNotAModule, diag.SevError, edge.Span, err.Error(), nil)
		}
	}

	ld.state[path] = done
	ld.order = append(ld.order, path)
	return nil
}

func (ld *loader) storeMeta(file *source.File, node *fileNode) {
	if ld.dcache == nil {
		return
	}
	meta := &FileMeta{Name: node.Name, Path: node.Path}
	for _, edge := range node.Imports {
		if edge.Kind == ast.ImportFile && edge.Resolved != "" {
			meta.ImportPaths = append(meta.ImportPaths, edge.Resolved)
		}
		if edge.Kind == ast.ImportMod {
			meta.ImportMods = append(meta.ImportMods, edge.Raw)
		}
	}
	_ = ld.dcache.Put(Digest(file.Hash), meta)
}

func (ld *loader) scanImports(f *ast.File, fromDir string) []importEdge {
	var edges []importEdge
	ast.Inspect(f, func(e ast.Expr) bool {
		imp, ok := e.(*ast.Import)
		if !ok {
			return true
		}
		edge := importEdge{Kind: imp.Kind, Raw: imp.Path, Span: imp.Span()}
		resolved, err := ld.resolveImport(fromDir, imp.Kind, imp.Path)
		if err == nil {
			edge.Resolved = resolved
		}
		edges = append(edges, edge)
		return true
	})
	return edges
}

func (ld *loader) resolveImport(fromDir string, kind ast.ImportKind, raw string) (string, error) {
	switch kind {
	case ast.ImportFile:
		abs, err := filepath.Abs(filepath.Join(fromDir, raw))
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(abs); err != nil {
			return "", err
		}
		return abs, nil
	default:
		return ld.resolveMod(raw)
	}
}

func (ld *loader) resolveMod(name string) (string, error) {
	path, err := project.ResolveMod(ld.modDir, name)
	if err == nil {
		return filepath.Abs(path)
	}
	if name == "core" {
		// Provision the bundled copy when the registry copy is absent.
		if instErr := project.InstallModule(ld.modDir, "core", coremod.FS()); instErr == nil {
			if path, err := project.ResolveMod(ld.modDir, name); err == nil {
				return filepath.Abs(path)
			}
		}
	}
	return "", fmt.Errorf("module %q not found under %s", name, ld.modDir)
}

// lowerAll lowers the graph in post-order and returns the entry
// module.
func (ld *loader) lowerAll(world *hir.World, entryPath string) *hir.Module {
	moduleIDs := make(map[string]hir.ModuleID, len(ld.order))
	nameTaken := make(map[string]int, len(ld.order))
	var entry *hir.Module
	for _, path := range ld.order {
		node := ld.nodes[path]
		// Module names feed symbol names; two files with the same stem
		// must not collide.
		if n := nameTaken[node.Name]; n > 0 {
			nameTaken[node.Name] = n + 1
			node.Name = fmt.Sprintf("%s%d", node.Name, n)
		} else {
			nameTaken[node.Name] = 1
		}
		fromDir := filepath.Dir(path)
		resolver := func(kind ast.ImportKind, raw string, sp source.Span) (hir.ModuleID, bool) {
			resolved, err := ld.resolveImport(fromDir, kind, raw)
			if err != nil {
				return hir.NoModuleID, false
			}
			id, ok := moduleIDs[resolved]
			return id, ok
		}
		mod := hir.LowerFile(world, node.AST, node.Name, resolver, ld.reporter)
		moduleIDs[path] = mod.ID
		if path == entryPath {
			entry = mod
		}
	}
	return entry
}

func moduleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
