// Package symbols extracts constant, class and module occurrences from a
// token stream.
package symbols

import (
	"strings"

	"github.com/phobologic/rubydef/internal/model"
)

// Separator joins the segments of a qualified constant path.
const Separator = "::"

// Index scans the tokens of one file in order and returns every constant
// occurrence, classified as a declaration or a reference.
//
// A nesting stack of qualified names tracks the enclosing class/module
// bodies: it is pushed after `class`/`module` and their name, and popped on
// the `end` that closes the body. Tokens from another buffer are ignored.
func Index(path string, tokens []model.Token) []model.Occurrence {
	toks := make([]model.Token, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Buffer == "" || tok.Buffer == path {
			toks = append(toks, tok)
		}
	}

	s := scanner{path: path, toks: toks}
	for s.i < len(s.toks) {
		s.step()
	}
	return s.occs
}

type scanner struct {
	path  string
	toks  []model.Token
	i     int
	stack []string
	occs  []model.Occurrence
}

func (s *scanner) step() {
	tok := s.toks[s.i]
	switch tok.Kind {
	case model.TokenKeywordClass, model.TokenKeywordModule:
		s.i++
		s.openScope()
	case model.TokenEndScope:
		if len(s.stack) > 0 {
			s.stack = s.stack[:len(s.stack)-1]
		}
		s.i++
	case model.TokenConstant, model.TokenScope:
		c, ok := s.readChain()
		if !ok {
			s.i++
			return
		}
		if k := s.cur().Kind; k == model.TokenAssign || k == model.TokenTargetComma {
			s.declare(c)
		} else {
			s.reference(c, len(c.segs))
		}
	default:
		s.i++
	}
}

// openScope handles the name after `class`/`module`. A frame is always
// pushed so the matching `end` stays balanced even when no name follows.
func (s *scanner) openScope() {
	c, ok := s.readChain()
	if !ok {
		s.stack = append(s.stack, s.top())
		return
	}
	qualified := s.declare(c)

	// The superclass is looked up from the outer scope.
	if tok := s.cur(); tok.Kind == model.TokenOther && tok.Text == "<" {
		s.i++
		if super, ok := s.readChain(); ok {
			s.reference(super, len(super.segs))
		}
	}
	s.stack = append(s.stack, qualified)
}

// chain is a run of constants joined by `::`, optionally starting with `::`.
type chain struct {
	absolute bool
	segs     []model.Token
}

func (c chain) text(n int) string {
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = c.segs[i].Text
	}
	joined := strings.Join(names, Separator)
	if c.absolute {
		return Separator + joined
	}
	return joined
}

// readChain consumes `::`? Constant (`::` Constant)* at the cursor.
func (s *scanner) readChain() (chain, bool) {
	var c chain
	start := s.i
	if s.cur().Kind == model.TokenScope {
		c.absolute = !s.followsValue(start)
		s.i++
	}
	for s.i < len(s.toks) && s.toks[s.i].Kind == model.TokenConstant {
		c.segs = append(c.segs, s.toks[s.i])
		s.i++
		if s.cur().Kind != model.TokenScope || s.peekAt(1).Kind != model.TokenConstant {
			break
		}
		s.i++
	}
	if len(c.segs) == 0 {
		s.i = start
		return chain{}, false
	}
	return c, true
}

// followsValue reports whether the token before idx ends an expression, in
// which case a `::` at idx is a method or constant access on that value
// rather than an explicit top-level lookup. A keyword never ends a value,
// and an identifier only does when nothing separates it from the `::`:
// `include ::Foo` passes an argument while `foo::Bar` reads from foo.
func (s *scanner) followsValue(idx int) bool {
	if idx == 0 {
		return false
	}
	prev, tok := s.toks[idx-1], s.toks[idx]
	if prev.Line != tok.Line {
		return false
	}
	switch prev.Kind {
	case model.TokenConstant:
		return true
	case model.TokenOther:
		if valueKeywords[prev.Text] {
			return true
		}
		if keywords[prev.Text] {
			return false
		}
		last := prev.Text[len(prev.Text)-1]
		switch {
		case last == ')' || last == ']' || ('0' <= last && last <= '9'):
			return true
		case last == '_' || ('a' <= last && last <= 'z') || ('A' <= last && last <= 'Z'):
			return prev.Column+prev.Length == tok.Column
		}
	}
	return false
}

// keywords are the reserved words after which an expression starts.
var keywords = map[string]bool{
	"alias": true, "and": true, "begin": true, "break": true, "case": true,
	"class": true, "def": true, "defined?": true, "do": true, "else": true,
	"elsif": true, "ensure": true, "for": true, "if": true, "in": true,
	"module": true, "next": true, "not": true, "or": true, "redo": true,
	"rescue": true, "retry": true, "return": true, "then": true, "undef": true,
	"unless": true, "until": true, "when": true, "while": true, "yield": true,
	"BEGIN": true, "END": true,
}

// valueKeywords are the reserved words that are themselves values.
var valueKeywords = map[string]bool{
	"self": true, "nil": true, "true": true, "false": true, "end": true,
	"__FILE__": true, "__LINE__": true, "__ENCODING__": true,
}

// declare records the last segment of c as a declaration and every earlier
// segment as a reference. It returns the declared qualified path.
func (s *scanner) declare(c chain) string {
	last := len(c.segs) - 1
	s.reference(c, last)

	var qualified string
	if c.absolute || s.top() == "" {
		qualified = strings.TrimPrefix(c.text(len(c.segs)), Separator)
	} else {
		qualified = s.top() + Separator + c.text(len(c.segs))
	}

	tok := c.segs[last]
	occ := s.occurrence(tok, qualified, qualified, model.Declaration)
	s.occs = append(s.occs, occ)
	if tok.Text != qualified {
		bare := occ
		bare.Name = tok.Text
		s.occs = append(s.occs, bare)
	}
	return qualified
}

// reference records the first n segments of c as references.
func (s *scanner) reference(c chain, n int) {
	for k := 0; k < n; k++ {
		s.occs = append(s.occs, s.occurrence(c.segs[k], c.segs[k].Text, c.text(k+1), model.Reference))
	}
}

func (s *scanner) occurrence(tok model.Token, name, path string, role model.Role) model.Occurrence {
	return model.Occurrence{
		Name:   name,
		Path:   path,
		Scope:  SplitPath(s.top()),
		File:   s.path,
		Line:   tok.Line,
		Column: tok.Column,
		Length: tok.Length,
		Role:   role,
	}
}

func (s *scanner) top() string {
	if len(s.stack) == 0 {
		return ""
	}
	return s.stack[len(s.stack)-1]
}

func (s *scanner) cur() model.Token {
	return s.peekAt(0)
}

func (s *scanner) peekAt(n int) model.Token {
	if s.i+n < len(s.toks) {
		return s.toks[s.i+n]
	}
	return model.Token{Kind: model.TokenOther}
}

// SplitPath splits a qualified path into its segments. The empty path has
// no segments.
func SplitPath(path string) []string {
	path = strings.TrimPrefix(path, Separator)
	if path == "" {
		return nil
	}
	return strings.Split(path, Separator)
}
