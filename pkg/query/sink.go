package query

import (
	"github.com/HatiCode/timequery/pkg/cellrange"
)

// Sink receives rendered result rows. Row indexes are zero based and do not
// count the header.
type Sink interface {
	WriteHeader(columns []string) error
	WriteRow(index int, timestamp int64, values []any) error
	// ClearFrom removes any previously written rows at index and beyond.
	ClearFrom(index int) error
}

// Bounded is implemented by sinks that can hold only a fixed number of rows.
// Write passes them the newest rows that fit.
type Bounded interface {
	Capacity() int
}

// Write renders the header and the current rows to sink, then clears rows
// left over from a longer previous write.
func (s *Store) Write(sink Sink) error {
	labels := s.Labels()
	if err := sink.WriteHeader(labels); err != nil {
		return err
	}

	rows := s.Rows()
	if b, ok := sink.(Bounded); ok {
		if c := b.Capacity(); c >= 0 && len(rows) > c {
			rows = rows[len(rows)-c:]
		}
	}

	for i, row := range rows {
		values := make([]any, len(labels))
		for j, label := range labels {
			values[j] = row.Values[label]
		}
		if err := sink.WriteRow(i, row.Time, values); err != nil {
			return err
		}
	}

	return sink.ClearFrom(len(rows))
}

// Info is the metadata object exposed to the host. Values is a flat list
// when the result has a single non-aggregated column, otherwise a map from
// column label to list. Lists are ordered most recent last.
type Info struct {
	Columns []string `json:"columns"`
	Times   []int64  `json:"times"`
	Values  any      `json:"values"`
}

// Info returns the current results as an info object.
func (s *Store) Info() Info {
	rows := s.Rows()
	info := Info{
		Columns: s.Labels(),
		Times:   make([]int64, len(rows)),
	}
	for i, row := range rows {
		info.Times[i] = row.Time
	}

	if len(s.columns) == 1 && !s.columns[0].Aggregated {
		label := s.columns[0].Label
		flat := make([]any, len(rows))
		for i, row := range rows {
			flat[i] = row.Values[label]
		}
		info.Values = flat
		return info
	}

	byKey := make(map[string][]any, len(s.columns))
	for _, c := range s.columns {
		list := make([]any, len(rows))
		for i, row := range rows {
			list[i] = row.Values[c.Label]
		}
		byKey[c.Label] = list
	}
	info.Values = byKey
	return info
}

// RangeSink writes results into a rectangular region of a grid: a header
// row [time, column...] followed by one row per result, clipped to the
// region.
type RangeSink struct {
	Grid  *cellrange.Grid
	Range cellrange.Range
}

// NewRangeSink returns a sink writing into r of grid.
func NewRangeSink(grid *cellrange.Grid, r cellrange.Range) *RangeSink {
	return &RangeSink{Grid: grid, Range: r}
}

// Capacity is the number of data rows below the header.
func (r *RangeSink) Capacity() int {
	return r.Range.Rows() - 1
}

func (r *RangeSink) WriteHeader(columns []string) error {
	header := append([]any{"time"}, toAny(columns)...)
	r.writeLine(r.Range.Start.Row, header)
	return nil
}

func (r *RangeSink) WriteRow(index int, timestamp int64, values []any) error {
	if index >= r.Capacity() {
		return nil
	}
	line := append([]any{timestamp}, values...)
	r.writeLine(r.Range.Start.Row+1+index, line)
	return nil
}

func (r *RangeSink) ClearFrom(index int) error {
	first := r.Range.Start.Row + 1 + index
	if first > r.Range.End.Row {
		return nil
	}
	r.Grid.Clear(cellrange.Range{
		Start: cellrange.Ref{Row: first, Col: r.Range.Start.Col},
		End:   r.Range.End,
	})
	return nil
}

// Clear removes everything previously written into the region.
func (r *RangeSink) Clear() {
	r.Grid.Clear(r.Range)
}

func (r *RangeSink) writeLine(row int, line []any) {
	for j, v := range line {
		if j >= r.Range.Cols() {
			return
		}
		ref := cellrange.Ref{Row: row, Col: r.Range.Start.Col + j}
		if v == nil {
			r.Grid.Clear(cellrange.Range{Start: ref, End: ref})
			continue
		}
		r.Grid.Set(ref, v)
	}
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
