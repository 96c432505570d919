package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/ruby"

	"github.com/phobologic/rubydef/internal/model"
)

// Ruby is the name the Ruby grammar is registered under.
const Ruby = "ruby"

func init() {
	Languages[Ruby] = &Language{
		Name:       Ruby,
		Extensions: []string{".rb"},
		lang:       ruby.GetLanguage(),
		Classify:   rubyClassify,
	}
}

// namesScope reports whether a keyword left in an ERROR node by a broken
// buffer is followed by a class or module name.
func namesScope(keyword *sitter.Node) bool {
	next := keyword.NextSibling()
	if next == nil {
		return false
	}
	switch next.Type() {
	case "constant", "scope_resolution", "::":
		return true
	}
	return false
}

// rubyClassify decides the token kind of a leaf from its own type and the
// type of the node that owns it. `class` inside `class << self` and `end`
// of a def/do/if body stay TokenOther so the indexer's nesting stack only
// moves for named class and module bodies.
func rubyClassify(node *sitter.Node) (model.TokenKind, bool) {
	parent := ""
	if p := node.Parent(); p != nil {
		parent = p.Type()
	}

	switch node.Type() {
	case "comment":
		return model.TokenOther, false
	case "constant":
		return model.TokenConstant, true
	case "class":
		if parent == "class" || (parent == "ERROR" && namesScope(node)) {
			return model.TokenKeywordClass, true
		}
	case "module":
		if parent == "module" || (parent == "ERROR" && namesScope(node)) {
			return model.TokenKeywordModule, true
		}
	case "end":
		if parent == "class" || parent == "module" {
			return model.TokenEndScope, true
		}
	case "::":
		return model.TokenScope, true
	case "=":
		if parent == "assignment" {
			return model.TokenAssign, true
		}
	case "||=":
		if parent == "operator_assignment" {
			return model.TokenAssign, true
		}
	case ",":
		if parent == "left_assignment_list" {
			return model.TokenTargetComma, true
		}
	}
	return model.TokenOther, true
}
