package query

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/HatiCode/timequery/pkg/aggregate"
	"github.com/HatiCode/timequery/pkg/errcode"
	"github.com/HatiCode/timequery/pkg/timestore"
)

// State is the window evaluation state of one plan.
type State int

const (
	AwaitingFirstSample State = iota
	Accumulating
)

func (s State) String() string {
	switch s {
	case AwaitingFirstSample:
		return "awaiting_first_sample"
	case Accumulating:
		return "accumulating"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Row is one result entry. For windowed plans Time is the window end; for
// passthrough plans it is the stored entry timestamp.
type Row struct {
	Time   int64          `json:"time"`
	Values map[string]any `json:"values"`
}

// Column describes one output column.
type Column struct {
	Label      string           `json:"label"`
	Key        string           `json:"key"`
	Method     aggregate.Method `json:"method"`
	Aggregated bool             `json:"aggregated"`
}

type window struct {
	state State
	start int64
}

// Store holds the aggregated result rows of one host function instance.
// It is not safe for concurrent use.
type Store struct {
	signature string
	plans     []Plan
	columns   []Column
	labels    [][]string
	windows   []window

	rows      []Row
	live      []Row
	exhausted bool
}

// NewStore returns an empty query store.
func NewStore() *Store {
	return &Store{}
}

// Query evaluates plans against ts at time now.
//
// Passthrough plans refresh a live mirror of the newest Limit entries.
// Windowed plans append one row per closed window that contains at least
// one entry. If the plans differ from the previous call, accumulated state
// is discarded first.
//
// Query returns errcode.ErrNotAvailable while a windowed plan is active and
// no row has been produced yet, and errcode.ErrLimit once a strict limit has
// been exhausted. The exhausted state persists until Reset or a plan change.
func (s *Store) Query(now int64, ts *timestore.Store, plans []Plan) error {
	for i, p := range plans {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("plan %d: %w", i, err)
		}
	}

	if sig := signature(plans); sig != s.signature {
		s.configure(sig, plans)
	}

	s.refreshLive(ts)

	if s.exhausted {
		return errcode.Limitf("result limit of %d rows reached", s.limit())
	}

	windowed := false
	var emitted []Row
	for i, p := range s.plans {
		if !p.Windowed() {
			continue
		}
		windowed = true
		emitted = s.advance(i, now, ts, emitted)
	}

	sort.SliceStable(emitted, func(i, j int) bool {
		return emitted[i].Time < emitted[j].Time
	})

	if err := s.append(emitted); err != nil {
		return err
	}

	if windowed && len(s.rows) == 0 {
		return errcode.ErrNotAvailable
	}
	return nil
}

func signature(plans []Plan) string {
	b, err := json.Marshal(plans)
	if err != nil {
		return fmt.Sprintf("%+v", plans)
	}
	return string(b)
}

func (s *Store) configure(sig string, plans []Plan) {
	s.signature = sig
	s.plans = append([]Plan(nil), plans...)
	s.windows = make([]window, len(plans))
	s.rows = nil
	s.live = nil
	s.exhausted = false

	counts := make(map[string]int)
	for _, p := range plans {
		for _, key := range p.Select {
			counts[key]++
		}
	}

	s.columns = nil
	s.labels = make([][]string, len(plans))
	seen := make(map[string]bool)
	for i, p := range plans {
		s.labels[i] = make([]string, len(p.Select))
		for j, key := range p.Select {
			m, aggregated := p.Method(j)
			label := key
			if counts[key] > 1 {
				if aggregated {
					label = key + "_" + m.String()
				} else {
					label = key + "_raw"
				}
			}
			s.labels[i][j] = label
			if seen[label] {
				continue
			}
			seen[label] = true
			s.columns = append(s.columns, Column{Label: label, Key: key, Method: m, Aggregated: aggregated})
		}
	}
}

// advance runs the window state machine of plan i up to now and appends
// the rows of every closed, non-empty window to out.
func (s *Store) advance(i int, now int64, ts *timestore.Store, out []Row) []Row {
	p := s.plans[i]
	w := &s.windows[i]

	if w.state == AwaitingFirstSample {
		w.start = now
		w.state = Accumulating
		return out
	}

	for {
		end := w.start + p.Interval
		if now < end {
			return out
		}

		entries := ts.Range(w.start, end)
		if len(entries) > 0 {
			out = mergeRow(out, s.reduce(i, end, entries))
			w.start = end
			continue
		}

		// Skip every empty window up to the next stored entry, or up to
		// now when nothing newer is stored.
		target := now
		if next, ok := ts.NextAt(end); ok && next < now {
			target = next
		}
		w.start = end + ((target-end)/p.Interval)*p.Interval
	}
}

func (s *Store) reduce(i int, end int64, entries []timestore.Entry) Row {
	p := s.plans[i]
	row := Row{Time: end, Values: make(map[string]any, len(p.Select))}
	for j, key := range p.Select {
		values := make([]any, len(entries))
		for k, e := range entries {
			values[k] = e.Values[key]
		}
		if m, ok := p.Method(j); ok {
			row.Values[s.labels[i][j]] = aggregate.Reduce(m, values)
		} else {
			row.Values[s.labels[i][j]] = values
		}
	}
	return row
}

func mergeRow(rows []Row, row Row) []Row {
	for i := range rows {
		if rows[i].Time == row.Time {
			for k, v := range row.Values {
				rows[i].Values[k] = v
			}
			return rows
		}
	}
	return append(rows, row)
}

func (s *Store) append(rows []Row) error {
	limit := s.limit()
	strict := s.strict()
	for _, row := range rows {
		if len(s.rows)+1 > limit {
			if strict {
				s.exhausted = true
				return errcode.Limitf("result limit of %d rows reached", limit)
			}
			s.rows = append(s.rows[:0:0], s.rows[1:]...)
		}
		s.rows = append(s.rows, row)
	}
	return nil
}

// limit is the smallest limit among windowed plans.
func (s *Store) limit() int {
	limit := 0
	for _, p := range s.plans {
		if p.Windowed() && (limit == 0 || p.Limit < limit) {
			limit = p.Limit
		}
	}
	if limit == 0 {
		return DefaultLimit
	}
	return limit
}

func (s *Store) strict() bool {
	for _, p := range s.plans {
		if p.Windowed() && p.StrictLimit {
			return true
		}
	}
	return false
}

func (s *Store) refreshLive(ts *timestore.Store) {
	s.live = nil

	n := 0
	for _, p := range s.plans {
		if !p.Windowed() && p.Limit > n {
			n = p.Limit
		}
	}
	if n == 0 {
		return
	}

	entries := ts.Entries()
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	live := make([]Row, len(entries))
	for i, e := range entries {
		live[i] = Row{Time: e.Timestamp, Values: make(map[string]any)}
	}

	for i, p := range s.plans {
		if p.Windowed() {
			continue
		}
		first := len(entries) - min(p.Limit, len(entries))
		for k := first; k < len(entries); k++ {
			for j, key := range p.Select {
				live[k].Values[s.labels[i][j]] = entries[k].Values[key]
			}
		}
	}
	s.live = live
}

// Columns returns the output columns in order.
func (s *Store) Columns() []Column {
	return append([]Column(nil), s.columns...)
}

// Labels returns the output column labels in order.
func (s *Store) Labels() []string {
	labels := make([]string, len(s.columns))
	for i, c := range s.columns {
		labels[i] = c.Label
	}
	return labels
}

// Rows returns the current result rows ordered by time: the live
// passthrough mirror merged with the accumulated windowed rows.
func (s *Store) Rows() []Row {
	out := make([]Row, 0, len(s.live)+len(s.rows))
	out = append(out, s.live...)
	out = append(out, s.rows...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time < out[j].Time
	})
	return out
}

// Len returns the number of accumulated windowed rows.
func (s *Store) Len() int { return len(s.rows) }

// States returns the window state of each plan.
func (s *Store) States() []State {
	states := make([]State, len(s.windows))
	for i, w := range s.windows {
		states[i] = w.state
	}
	return states
}

// Reset clears all rows and returns every plan to AwaitingFirstSample.
func (s *Store) Reset() {
	s.rows = nil
	s.live = nil
	s.exhausted = false
	for i := range s.windows {
		s.windows[i] = window{}
	}
}
