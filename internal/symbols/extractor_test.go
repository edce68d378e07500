package symbols

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
)

func extract(t *testing.T, language, path, src string) *FileSymbols {
	t.Helper()
	out, err := DefaultRegistry().For(language).Extract(context.Background(), path, []byte(src))
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}

func findSymbol(fs *FileSymbols, name string) *Symbol {
	for i := range fs.Symbols {
		if fs.Symbols[i].Name == name {
			return &fs.Symbols[i]
		}
	}
	return nil
}

func edgesOf(fs *FileSymbols, kind EdgeKind, target string) []Edge {
	var out []Edge
	for _, e := range fs.Edges {
		if e.Kind == kind && e.TargetName == target {
			out = append(out, e)
		}
	}
	return out
}

func TestExtract_RustDefinitionAndCallAcrossFiles(t *testing.T) {
	// Given: a.rs defines foo and b.rs calls it
	a := extract(t, "rust", "a.rs", "pub fn foo() -> u32 {\n    42\n}\n")
	b := extract(t, "rust", "b.rs", "use crate::a::foo;\n\nfn main() {\n    let x = foo();\n}\n")

	// Then: a.rs holds the definition with its span
	foo := findSymbol(a, "foo")
	require.NotNil(t, foo)
	assert.Equal(t, KindFunction, foo.Kind)
	assert.Equal(t, 1, foo.StartLine)
	assert.Equal(t, 3, foo.EndLine)

	// And: b.rs records exactly one unresolved call site plus the import
	calls := edgesOf(b, EdgeCalls, "foo")
	require.Len(t, calls, 1)
	assert.Equal(t, "b.rs", calls[0].Path)
	assert.Equal(t, 4, calls[0].Line)
	assert.Equal(t, 13, calls[0].Column)
	assert.Empty(t, calls[0].TargetID)
	assert.Equal(t, findSymbol(b, "main").ID, calls[0].SourceID)

	imports := edgesOf(b, EdgeImports, "crate::a::foo")
	assert.Len(t, imports, 1)
	assert.Nil(t, findSymbol(b, "foo"))
}

func TestExtract_RustImplMethodsAndModDeclarations(t *testing.T) {
	src := `mod util;

struct Point { x: i32 }

impl Point {
    fn norm(&self) -> i32 { self.x }
}

trait Shape {
    fn area(&self) -> f64;
}
`
	fs := extract(t, "rust", "lib.rs", src)

	assert.Equal(t, KindStruct, findSymbol(fs, "Point").Kind)
	assert.Equal(t, KindMethod, findSymbol(fs, "norm").Kind)
	assert.Equal(t, KindTrait, findSymbol(fs, "Shape").Kind)
	assert.Equal(t, KindMethod, findSymbol(fs, "area").Kind)
	assert.Equal(t, KindModule, findSymbol(fs, "util").Kind)
	assert.Len(t, edgesOf(fs, EdgeImports, "util"), 1)
}

func TestExtract_GoKinds(t *testing.T) {
	src := `package shop

import "fmt"

const MaxItems = 10

type Cart struct{ items []string }

type Pricer interface{ Price() int }

type ID string

func NewCart() *Cart { return &Cart{} }

func (c *Cart) Add(item string) {
	fmt.Println(item)
	c.items = append(c.items, item)
}
`
	fs := extract(t, "go", "shop/cart.go", src)

	tests := map[string]Kind{
		"MaxItems": KindConstant,
		"Cart":     KindStruct,
		"Pricer":   KindInterface,
		"ID":       KindType,
		"NewCart":  KindFunction,
		"Add":      KindMethod,
	}
	for name, want := range tests {
		sym := findSymbol(fs, name)
		require.NotNil(t, sym, name)
		assert.Equal(t, want, sym.Kind, name)
	}

	assert.Len(t, edgesOf(fs, EdgeImports, "fmt"), 1)
	assert.Len(t, edgesOf(fs, EdgeCalls, "Println"), 1)
	assert.NotEmpty(t, edgesOf(fs, EdgeReferences, "Cart"))
}

func TestExtract_PythonMethodsAndModuleConstants(t *testing.T) {
	src := `import os
from pkg.models import User

TIMEOUT = 30

class Service:
    def run(self):
        return helper()

def helper():
    return os.getcwd()
`
	fs := extract(t, "python", "svc.py", src)

	assert.Equal(t, KindConstant, findSymbol(fs, "TIMEOUT").Kind)
	assert.Equal(t, KindClass, findSymbol(fs, "Service").Kind)
	assert.Equal(t, KindMethod, findSymbol(fs, "run").Kind)
	assert.Equal(t, KindFunction, findSymbol(fs, "helper").Kind)
	assert.Equal(t, findSymbol(fs, "Service").ID, findSymbol(fs, "run").ParentID)

	assert.Len(t, edgesOf(fs, EdgeImports, "os"), 1)
	assert.Len(t, edgesOf(fs, EdgeImports, "pkg.models"), 1)

	// helper() is called before its textual definition but still resolves
	calls := edgesOf(fs, EdgeCalls, "helper")
	require.Len(t, calls, 1)
	assert.Equal(t, findSymbol(fs, "helper").ID, calls[0].TargetID)
}

func TestExtract_TypeScriptDeclarations(t *testing.T) {
	src := `import { api } from "./api";

export interface User { name: string }

export type UserID = string;

export const fetchUser = async (id: UserID): Promise<User> => {
  return api.get(id);
};

export class Store {
  load() { return fetchUser("1"); }
}
`
	fs := extract(t, "typescript", "store.ts", src)

	assert.Equal(t, KindInterface, findSymbol(fs, "User").Kind)
	assert.Equal(t, KindType, findSymbol(fs, "UserID").Kind)
	assert.Equal(t, KindFunction, findSymbol(fs, "fetchUser").Kind)
	assert.Equal(t, KindClass, findSymbol(fs, "Store").Kind)
	assert.Equal(t, KindMethod, findSymbol(fs, "load").Kind)

	assert.Len(t, edgesOf(fs, EdgeImports, "./api"), 1)
	calls := edgesOf(fs, EdgeCalls, "fetchUser")
	require.Len(t, calls, 1)
	assert.Equal(t, findSymbol(fs, "fetchUser").ID, calls[0].TargetID)
}

func TestExtract_JavaScriptRequireFreeImports(t *testing.T) {
	fs := extract(t, "javascript", "app.js", "import x from 'lib';\nfunction go() { return new Widget(); }\n")

	assert.Len(t, edgesOf(fs, EdgeImports, "lib"), 1)
	assert.Len(t, edgesOf(fs, EdgeCalls, "Widget"), 1)
}

func TestExtract_ResolvesNearestEnclosingScope(t *testing.T) {
	// Given: two functions named inner, one nested in outer
	src := `def inner():
    return 1

def outer():
    def inner():
        return 2
    return inner()

def other():
    return inner()
`
	fs := extract(t, "python", "scope.py", src)

	var top, nested *Symbol
	for i := range fs.Symbols {
		s := &fs.Symbols[i]
		if s.Name != "inner" {
			continue
		}
		if s.ParentID == "" {
			top = s
		} else {
			nested = s
		}
	}
	require.NotNil(t, top)
	require.NotNil(t, nested)

	// Then: the call inside outer binds to the nested definition, the call
	// inside other binds to the module-level one
	calls := edgesOf(fs, EdgeCalls, "inner")
	require.Len(t, calls, 2)
	assert.Equal(t, nested.ID, calls[0].TargetID)
	assert.Equal(t, top.ID, calls[1].TargetID)
}

func TestExtract_IDsStableUnderUnrelatedEdits(t *testing.T) {
	// Given: a file, then the same file with a body edit in another function
	before := "fn a() { 1 }\n\nfn b() { 2 }\n"
	after := "fn a() { 100 + 1 }\n\nfn b() { 2 }\n"

	v1 := extract(t, "rust", "lib.rs", before)
	v2 := extract(t, "rust", "lib.rs", after)

	// Then: IDs are unchanged, only the edited symbol's fingerprint moves
	assert.Equal(t, findSymbol(v1, "a").ID, findSymbol(v2, "a").ID)
	assert.Equal(t, findSymbol(v1, "b").ID, findSymbol(v2, "b").ID)
	assert.NotEqual(t, findSymbol(v1, "a").Fingerprint, findSymbol(v2, "a").Fingerprint)
	assert.Equal(t, findSymbol(v1, "b").Fingerprint, findSymbol(v2, "b").Fingerprint)
}

func TestExtract_MalformedSourceFailsSoft(t *testing.T) {
	// Given: Go with a syntax error after a valid function
	src := "package p\n\nfunc ok() {}\n\nfunc broken( {\n"

	// When: extracting
	out, err := DefaultRegistry().For("go").Extract(context.Background(), "p.go", []byte(src))

	// Then: a ParseError is reported with whatever was recovered
	require.Error(t, err)
	assert.True(t, errors.Is(err, cerrors.ErrParse))
	require.NotNil(t, out)
	assert.NotNil(t, findSymbol(out, "ok"))
}

func TestRegistry_UnsupportedLanguageYieldsNothing(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Supported("cobol"))

	out, err := r.For("cobol").Extract(context.Background(), "x.cbl", []byte("IDENTIFICATION DIVISION."))

	require.NoError(t, err)
	assert.Empty(t, out.Symbols)
	assert.Empty(t, out.Edges)
}

func TestSymbolID_Deterministic(t *testing.T) {
	id := SymbolID("a.rs", KindFunction, "foo", 1)

	assert.Len(t, id, 16)
	assert.Equal(t, id, SymbolID("a.rs", KindFunction, "foo", 1))
	assert.NotEqual(t, id, SymbolID("a.rs", KindFunction, "foo", 2))
	assert.NotEqual(t, id, SymbolID("b.rs", KindFunction, "foo", 1))
	assert.NotEqual(t, id, SymbolID("a.rs", KindMethod, "foo", 1))
}
