// Package parse turns source buffers into token streams using tree-sitter.
package parse

import (
	"context"
	"unicode/utf16"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/rubydef/internal/lang"
	"github.com/phobologic/rubydef/internal/model"
)

// Parser produces the token stream and diagnostics for one buffer.
// Implementations must not fail on malformed input: problems are reported
// as diagnostics next to whatever tokens could be recovered.
type Parser interface {
	Parse(name string, source []byte) ([]model.Token, []model.Diagnostic)
}

// TreeSitter is a Parser backed by a tree-sitter grammar. It is safe for
// concurrent use; every call gets its own tree-sitter parser.
type TreeSitter struct {
	lang *lang.Language
}

// New returns a tree-sitter Parser for the given language.
func New(l *lang.Language) *TreeSitter {
	return &TreeSitter{lang: l}
}

// NewRuby returns a tree-sitter Parser for Ruby.
func NewRuby() *TreeSitter {
	return New(lang.Languages[lang.Ruby])
}

// Parse tokenizes source. name is stamped on every token as its buffer.
func (p *TreeSitter) Parse(name string, source []byte) ([]model.Token, []model.Diagnostic) {
	if len(source) == 0 {
		return nil, nil
	}

	tree, err := p.lang.NewParser().ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, []model.Diagnostic{{Message: "parse failed: " + err.Error()}}
	}
	defer tree.Close()

	root := tree.RootNode()
	w := walker{
		name:       name,
		source:     source,
		lineStarts: lineStarts(source),
		classify:   p.lang.Classify,
	}
	w.tokens(root)
	if root.HasError() {
		w.diagnostics(root)
	}
	return w.toks, w.diags
}

type walker struct {
	name       string
	source     []byte
	lineStarts []int
	classify   func(*sitter.Node) (model.TokenKind, bool)

	toks  []model.Token
	diags []model.Diagnostic
}

func (w *walker) tokens(node *sitter.Node) {
	count := int(node.ChildCount())
	if count == 0 {
		if node.IsMissing() || node.StartByte() == node.EndByte() {
			return
		}
		kind, ok := w.classify(node)
		if !ok {
			return
		}
		line, col := w.position(node)
		w.toks = append(w.toks, model.Token{
			Kind:   kind,
			Text:   lang.NodeText(node, w.source),
			Buffer: w.name,
			Line:   line,
			Column: col,
			Length: utf16Len(w.source[node.StartByte():node.EndByte()]),
		})
		return
	}
	// Comments have no children of interest but may be non-leaves in some grammars.
	if node.Type() == "comment" {
		return
	}
	for i := 0; i < count; i++ {
		w.tokens(node.Child(i))
	}
}

func (w *walker) diagnostics(node *sitter.Node) {
	switch {
	case node.IsMissing():
		line, col := w.position(node)
		w.diags = append(w.diags, model.Diagnostic{Line: line, Column: col, Message: "missing " + node.Type()})
		return
	case node.IsError():
		line, col := w.position(node)
		w.diags = append(w.diags, model.Diagnostic{Line: line, Column: col, Message: "syntax error"})
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.HasError() || child.IsMissing() {
			w.diagnostics(child)
		}
	}
}

// position converts a node start to a 0-based line and UTF-16 column.
func (w *walker) position(node *sitter.Node) (int, int) {
	row := int(node.StartPoint().Row)
	start := int(node.StartByte())
	if row >= len(w.lineStarts) {
		return row, 0
	}
	return row, utf16Len(w.source[w.lineStarts[row]:start])
}

func lineStarts(source []byte) []int {
	starts := []int{0}
	for i, b := range source {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func utf16Len(b []byte) int {
	n := 0
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		if r == utf8.RuneError && size == 1 {
			n++
			continue
		}
		n += utf16.RuneLen(r)
	}
	return n
}
