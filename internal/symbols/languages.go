package symbols

import (
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// defContext is what a definition rule sees when it matches a node.
type defContext struct {
	node      *Node
	parent    *Node
	container string // node type of the innermost enclosing scope, "" at file level
	source    []byte
}

// defRule classifies a definition node. classify may refine the kind or
// reject the node (ok == false).
type defRule struct {
	kind     Kind
	names    func(n *Node) []*Node
	classify func(c defContext) (Kind, bool)
}

// languageSpec describes how one grammar maps onto symbols and edges.
type languageSpec struct {
	name     string
	language *sitter.Language

	defs map[string]defRule
	// calls maps a call node type to the field holding the callee.
	calls map[string]string
	// imports maps an import node type to a function returning specifiers.
	imports map[string]func(n *Node, src []byte) []string
	// scopes are nameless containers such as Rust impl blocks.
	scopes map[string]bool
	// refs are identifier node types recorded as references.
	refs map[string]bool
}

func builtinSpecs() []*languageSpec {
	return []*languageSpec{
		goSpec(),
		rustSpec(),
		pythonSpec(),
		javascriptSpec(),
		typescriptSpec("typescript", typescript.GetLanguage()),
		typescriptSpec("tsx", tsx.GetLanguage()),
	}
}

func byField(field string) func(n *Node) []*Node {
	return func(n *Node) []*Node {
		return n.ChildrenByField(field)
	}
}

var byName = byField("name")

func fixed(k Kind) defRule { return defRule{kind: k, names: byName} }

func topLevelOnly(k Kind) defRule {
	return defRule{kind: k, names: byName, classify: func(c defContext) (Kind, bool) {
		return k, c.container == ""
	}}
}

func unquote(s string) string {
	return strings.Trim(s, "\"'`")
}

func goSpec() *languageSpec {
	return &languageSpec{
		name:     "go",
		language: golang.GetLanguage(),
		defs: map[string]defRule{
			"function_declaration": fixed(KindFunction),
			"method_declaration":   fixed(KindMethod),
			"type_spec": {kind: KindType, names: byName, classify: func(c defContext) (Kind, bool) {
				switch t := c.node.ChildByField("type"); {
				case t == nil:
					return KindType, true
				case t.Type == "struct_type":
					return KindStruct, true
				case t.Type == "interface_type":
					return KindInterface, true
				}
				return KindType, true
			}},
			"type_alias": fixed(KindType),
			"const_spec": topLevelOnly(KindConstant),
			"var_spec":   topLevelOnly(KindVariable),
		},
		calls: map[string]string{"call_expression": "function"},
		imports: map[string]func(*Node, []byte) []string{
			"import_spec": func(n *Node, src []byte) []string {
				if p := n.ChildByField("path"); p != nil {
					return []string{unquote(p.Content(src))}
				}
				return nil
			},
		},
		refs: map[string]bool{"identifier": true, "type_identifier": true},
	}
}

func rustSpec() *languageSpec {
	inImpl := func(k Kind) defRule {
		return defRule{kind: k, names: byName, classify: func(c defContext) (Kind, bool) {
			if c.container == "impl_item" || c.container == "trait_item" {
				return KindMethod, true
			}
			return k, true
		}}
	}
	return &languageSpec{
		name:     "rust",
		language: rust.GetLanguage(),
		defs: map[string]defRule{
			"function_item":           inImpl(KindFunction),
			"function_signature_item": inImpl(KindFunction),
			"struct_item":             fixed(KindStruct),
			"union_item":              fixed(KindStruct),
			"enum_item":               fixed(KindEnum),
			"trait_item":              fixed(KindTrait),
			"type_item":               fixed(KindType),
			"const_item":              fixed(KindConstant),
			"static_item":             fixed(KindVariable),
			"mod_item":                fixed(KindModule),
			"macro_definition":        fixed(KindFunction),
		},
		calls: map[string]string{"call_expression": "function"},
		imports: map[string]func(*Node, []byte) []string{
			"use_declaration": func(n *Node, src []byte) []string {
				if a := n.ChildByField("argument"); a != nil {
					return []string{a.Content(src)}
				}
				return nil
			},
			// "mod b;" pulls in b.rs; an inline module body does not.
			"mod_item": func(n *Node, src []byte) []string {
				if n.ChildByField("body") != nil {
					return nil
				}
				if name := n.ChildByField("name"); name != nil {
					return []string{name.Content(src)}
				}
				return nil
			},
		},
		scopes: map[string]bool{"impl_item": true},
		refs:   map[string]bool{"identifier": true, "type_identifier": true},
	}
}

func pythonSpec() *languageSpec {
	return &languageSpec{
		name:     "python",
		language: python.GetLanguage(),
		defs: map[string]defRule{
			"function_definition": {kind: KindFunction, names: byName, classify: func(c defContext) (Kind, bool) {
				if c.container == "class_definition" {
					return KindMethod, true
				}
				return KindFunction, true
			}},
			"class_definition": fixed(KindClass),
			"assignment": {kind: KindVariable, names: func(n *Node) []*Node {
				if left := n.ChildByField("left"); left != nil && left.Type == "identifier" {
					return []*Node{left}
				}
				return nil
			}, classify: func(c defContext) (Kind, bool) {
				if c.container != "" {
					return "", false
				}
				name := c.node.ChildByField("left").Content(c.source)
				if isUpperSnake(name) {
					return KindConstant, true
				}
				return KindVariable, true
			}},
		},
		calls: map[string]string{"call": "function"},
		imports: map[string]func(*Node, []byte) []string{
			"import_statement": func(n *Node, src []byte) []string {
				var out []string
				for _, c := range n.ChildrenByField("name") {
					if c.Type == "aliased_import" {
						c = c.ChildByField("name")
					}
					if c != nil {
						out = append(out, c.Content(src))
					}
				}
				return out
			},
			"import_from_statement": func(n *Node, src []byte) []string {
				if m := n.ChildByField("module_name"); m != nil {
					return []string{m.Content(src)}
				}
				return nil
			},
		},
		refs: map[string]bool{"identifier": true},
	}
}

// ecmaDefs are shared by JavaScript, TypeScript and TSX.
func ecmaDefs() map[string]defRule {
	return map[string]defRule{
		"function_declaration":           fixed(KindFunction),
		"generator_function_declaration": fixed(KindFunction),
		"class_declaration":              fixed(KindClass),
		"method_definition":              fixed(KindMethod),
		"variable_declarator": {kind: KindVariable, names: func(n *Node) []*Node {
			if name := n.ChildByField("name"); name != nil && name.Type == "identifier" {
				return []*Node{name}
			}
			return nil
		}, classify: func(c defContext) (Kind, bool) {
			if v := c.node.ChildByField("value"); v != nil {
				switch v.Type {
				case "arrow_function", "function", "function_expression", "generator_function":
					return KindFunction, true
				}
			}
			if c.container != "" {
				return "", false
			}
			if c.parent != nil && c.parent.Type == "lexical_declaration" &&
				strings.HasPrefix(c.parent.Content(c.source), "const") {
				return KindConstant, true
			}
			return KindVariable, true
		}},
	}
}

func ecmaImports() map[string]func(*Node, []byte) []string {
	source := func(n *Node, src []byte) []string {
		if s := n.ChildByField("source"); s != nil {
			return []string{unquote(s.Content(src))}
		}
		return nil
	}
	return map[string]func(*Node, []byte) []string{
		"import_statement": source,
		"export_statement": source,
	}
}

func javascriptSpec() *languageSpec {
	return &languageSpec{
		name:     "javascript",
		language: javascript.GetLanguage(),
		defs:     ecmaDefs(),
		calls:    map[string]string{"call_expression": "function", "new_expression": "constructor"},
		imports:  ecmaImports(),
		refs:     map[string]bool{"identifier": true},
	}
}

func typescriptSpec(name string, lang *sitter.Language) *languageSpec {
	defs := ecmaDefs()
	defs["abstract_class_declaration"] = fixed(KindClass)
	defs["interface_declaration"] = fixed(KindInterface)
	defs["type_alias_declaration"] = fixed(KindType)
	defs["enum_declaration"] = fixed(KindEnum)
	defs["internal_module"] = fixed(KindModule)
	defs["module"] = fixed(KindModule)

	return &languageSpec{
		name:     name,
		language: lang,
		defs:     defs,
		calls:    map[string]string{"call_expression": "function", "new_expression": "constructor"},
		imports:  ecmaImports(),
		refs:     map[string]bool{"identifier": true, "type_identifier": true},
	}
}

// calleeName reduces a callee expression to the called name: the last
// segment of a selector, member, attribute or path expression.
func calleeName(n *Node) *Node {
	for n != nil {
		switch n.Type {
		case "identifier", "field_identifier", "property_identifier", "type_identifier":
			return n
		case "selector_expression", "field_expression":
			n = n.ChildByField("field")
		case "member_expression":
			n = n.ChildByField("property")
		case "attribute":
			n = n.ChildByField("attribute")
		case "scoped_identifier":
			n = n.ChildByField("name")
		case "generic_function":
			n = n.ChildByField("function")
		case "parenthesized_expression":
			if len(n.Children) == 0 {
				return nil
			}
			n = n.Children[0]
		default:
			return nil
		}
	}
	return nil
}

// ignoredRefs are language keywords that parse as identifiers.
var ignoredRefs = map[string]bool{
	"self": true, "Self": true, "this": true, "super": true,
	"nil": true, "true": true, "false": true, "None": true, "True": true, "False": true,
	"_": true, "undefined": true,
}

func isUpperSnake(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}
