// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/phobologic/rubydef/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode converts a Snapshot into TOON format.
func Encode(snap *model.Snapshot) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("workspace: %s", encodeValue(snap.Name)))
	parts = append(parts, formatList("roots", snap.Roots))

	var fileRows [][]string
	for i := range snap.Files {
		fs := &snap.Files[i]
		fileRows = append(fileRows, []string{
			fs.Path,
			strconv.Itoa(fs.Declarations),
			strconv.Itoa(fs.Diagnostics),
			fmt.Sprintf("%.4f", fs.Rank),
		})
	}
	parts = append(parts, formatTabular("files", []string{"path", "declarations", "diagnostics", "rank"}, fileRows))

	var symbolRows [][]string
	for i := range snap.Symbols {
		occ := &snap.Symbols[i]
		if occ.Role != model.Declaration {
			continue
		}
		// Positions are printed 1-based, as an editor shows them.
		symbolRows = append(symbolRows, []string{
			occ.File,
			occ.Path,
			strconv.Itoa(occ.Line + 1),
			strconv.Itoa(occ.Column + 1),
		})
	}
	parts = append(parts, formatTabular("symbols", []string{"file", "name", "line", "column"}, symbolRows))

	var depRows [][]string
	for i := range snap.Dependencies {
		d := &snap.Dependencies[i]
		depRows = append(depRows, []string{
			d.Source,
			d.Target,
			strings.Join(d.Symbols, " "),
		})
	}
	parts = append(parts, formatTabular("dependencies", []string{"source", "target", "symbols"}, depRows))

	return strings.Join(parts, "\n")
}

// EncodeLocations renders definition results as a TOON table.
func EncodeLocations(locs []model.Location) string {
	rows := make([][]string, 0, len(locs))
	for _, loc := range locs {
		rows = append(rows, []string{
			loc.File,
			strconv.Itoa(loc.Line + 1),
			strconv.Itoa(loc.Column + 1),
		})
	}
	return formatTabular("definitions", []string{"file", "line", "column"}, rows)
}

func formatList(name string, values []string) string {
	if len(values) == 0 {
		return fmt.Sprintf("%s[0]:", name)
	}
	encoded := make([]string, len(values))
	for i, v := range values {
		encoded[i] = encodeValue(v)
	}
	return fmt.Sprintf("%s[%d]: %s", name, len(values), strings.Join(encoded, ","))
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
