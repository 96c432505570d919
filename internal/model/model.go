// Package model defines core data structures for rubydef.
package model

// TokenKind classifies a lexical token for symbol indexing.
type TokenKind uint8

const (
	TokenOther TokenKind = iota
	TokenConstant
	TokenKeywordClass  // `class` opening a named class body
	TokenKeywordModule // `module` opening a module body
	TokenEndScope      // `end` closing a class or module body
	TokenScope         // `::`
	TokenAssign        // `=` or `||=` in an assignment
	TokenTargetComma   // `,` between the targets of a multiple assignment
)

func (k TokenKind) String() string {
	switch k {
	case TokenConstant:
		return "constant"
	case TokenKeywordClass:
		return "class"
	case TokenKeywordModule:
		return "module"
	case TokenEndScope:
		return "end"
	case TokenScope:
		return "scope"
	case TokenAssign:
		return "assign"
	case TokenTargetComma:
		return "target-comma"
	default:
		return "other"
	}
}

// Token is a single leaf of a parsed buffer. Line is 0-based; Column and
// Length are measured in UTF-16 code units, matching LSP positions.
type Token struct {
	Kind   TokenKind
	Text   string
	Buffer string
	Line   int
	Column int
	Length int
}

// Diagnostic is a parse problem reported for a buffer.
type Diagnostic struct {
	Line    int
	Column  int
	Message string
}

// Role indicates whether an occurrence introduces a symbol or uses it.
type Role string

const (
	Declaration Role = "decl"
	Reference   Role = "ref"
)

// Occurrence is one constant token recorded in the workspace index.
//
// Name is the index key. For declarations Path is the fully qualified name
// (e.g. "Foo::Bar"); for references it is the constant chain as written,
// with a leading "::" for explicit top-level lookups. Scope holds the
// enclosing module path at the token, outermost first.
type Occurrence struct {
	Name   string
	Path   string
	Scope  []string
	File   string
	Line   int
	Column int
	Length int
	Role   Role
}

// Location returns the source position of the occurrence.
func (o Occurrence) Location() Location {
	return Location{File: o.File, Line: o.Line, Column: o.Column, Length: o.Length}
}

// Contains reports whether the 0-based position falls on the occurrence.
// The column just past the token counts, so a cursor at the end of a name
// still selects it.
func (o Occurrence) Contains(line, column int) bool {
	return o.Line == line && column >= o.Column && column <= o.Column+o.Length
}

// Location is a position in a workspace file.
type Location struct {
	File   string
	Line   int
	Column int
	Length int
}

// SourceFile is the last successful parse of a workspace file.
type SourceFile struct {
	Path        string
	Size        int64
	Digest      [32]byte
	Tokens      []Token
	Diagnostics []Diagnostic
}

// Dependency represents an edge in the file dependency graph:
// Source references constants declared in Target.
type Dependency struct {
	Source  string
	Target  string
	Symbols []string
}

// FileSummary describes one indexed file for reporting.
type FileSummary struct {
	Path         string
	Tokens       int
	Declarations int
	Diagnostics  int
	Rank         float64
}

// Snapshot is a point-in-time view of the workspace index, ready for
// serialization.
type Snapshot struct {
	Name         string
	Roots        []string
	Files        []FileSummary
	Symbols      []Occurrence
	Dependencies []Dependency
}
