// Package cellrange parses A1-style cell references and holds a sparse grid
// that query results can be written into.
package cellrange

import (
	"fmt"
	"sort"
	"strings"

	"github.com/HatiCode/timequery/pkg/errcode"
)

// Ref addresses one cell. Row and Col are zero based.
type Ref struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// String formats the reference in A1 notation.
func (r Ref) String() string {
	return columnName(r.Col) + fmt.Sprint(r.Row+1)
}

// Range is an inclusive rectangle of cells.
type Range struct {
	Start Ref `json:"start"`
	End   Ref `json:"end"`
}

// String formats the range in A1 notation.
func (r Range) String() string {
	if r.Start == r.End {
		return r.Start.String()
	}
	return r.Start.String() + ":" + r.End.String()
}

// Rows returns the number of rows covered.
func (r Range) Rows() int { return r.End.Row - r.Start.Row + 1 }

// Cols returns the number of columns covered.
func (r Range) Cols() int { return r.End.Col - r.Start.Col + 1 }

// Contains reports whether ref lies inside the range.
func (r Range) Contains(ref Ref) bool {
	return ref.Row >= r.Start.Row && ref.Row <= r.End.Row &&
		ref.Col >= r.Start.Col && ref.Col <= r.End.Col
}

// Parse reads "D5:E10", "$D$5:$E$10" or a single cell "D5". Corners may be
// given in any order; the result is normalised so Start is top-left.
func Parse(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, errcode.Valuef("empty range reference")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 2 {
		return Range{}, errcode.Valuef("invalid range reference %q", s)
	}

	start, err := ParseRef(parts[0])
	if err != nil {
		return Range{}, err
	}
	end := start
	if len(parts) == 2 {
		if end, err = ParseRef(parts[1]); err != nil {
			return Range{}, err
		}
	}

	if end.Row < start.Row {
		start.Row, end.Row = end.Row, start.Row
	}
	if end.Col < start.Col {
		start.Col, end.Col = end.Col, start.Col
	}
	return Range{Start: start, End: end}, nil
}

// ParseRef reads a single A1 cell reference.
func ParseRef(s string) (Ref, error) {
	src := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "$", ""))

	i := 0
	col := 0
	for i < len(src) && src[i] >= 'A' && src[i] <= 'Z' {
		col = col*26 + int(src[i]-'A'+1)
		i++
		if col > 16384 {
			return Ref{}, errcode.Valuef("column out of range in %q", s)
		}
	}
	if i == 0 || i == len(src) {
		return Ref{}, errcode.Valuef("invalid cell reference %q", s)
	}

	row := 0
	for j := i; j < len(src); j++ {
		if src[j] < '0' || src[j] > '9' {
			return Ref{}, errcode.Valuef("invalid cell reference %q", s)
		}
		row = row*10 + int(src[j]-'0')
		if row > 1<<20 {
			return Ref{}, errcode.Valuef("row out of range in %q", s)
		}
	}
	if row == 0 {
		return Ref{}, errcode.Valuef("invalid cell reference %q", s)
	}

	return Ref{Row: row - 1, Col: col - 1}, nil
}

func columnName(col int) string {
	var b []byte
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// Grid is a sparse cell map. It is not safe for concurrent use.
type Grid struct {
	cells map[Ref]any
}

// NewGrid returns an empty grid.
func NewGrid() *Grid {
	return &Grid{cells: make(map[Ref]any)}
}

// Set stores v at ref.
func (g *Grid) Set(ref Ref, v any) {
	g.cells[ref] = v
}

// Get returns the value at ref.
func (g *Grid) Get(ref Ref) (any, bool) {
	v, ok := g.cells[ref]
	return v, ok
}

// Clear removes every cell inside r.
func (g *Grid) Clear(r Range) {
	for ref := range g.cells {
		if r.Contains(ref) {
			delete(g.cells, ref)
		}
	}
}

// Len returns the number of populated cells.
func (g *Grid) Len() int { return len(g.cells) }

// Rows renders the populated part of r as a row-major table: from the start
// of r to the last populated row and column inside it. Empty cells are nil.
func (g *Grid) Rows(r Range) [][]any {
	lastRow, lastCol := -1, -1
	for ref := range g.cells {
		if !r.Contains(ref) {
			continue
		}
		lastRow = max(lastRow, ref.Row-r.Start.Row)
		lastCol = max(lastCol, ref.Col-r.Start.Col)
	}

	out := make([][]any, lastRow+1)
	for i := range out {
		row := make([]any, lastCol+1)
		for j := range row {
			row[j] = g.cells[Ref{Row: r.Start.Row + i, Col: r.Start.Col + j}]
		}
		out[i] = row
	}
	return out
}

// Refs returns the populated references in row-major order.
func (g *Grid) Refs() []Ref {
	refs := make([]Ref, 0, len(g.cells))
	for ref := range g.cells {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Row != refs[j].Row {
			return refs[i].Row < refs[j].Row
		}
		return refs[i].Col < refs[j].Col
	})
	return refs
}
