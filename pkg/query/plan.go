// Package query evaluates query plans against a time store.
//
// A Plan either mirrors the raw stored values (no interval) or groups them
// into fixed windows and reduces each window with an aggregate method. A
// Store accumulates the windowed rows across evaluation cycles and renders
// them to sinks.
package query

import (
	"github.com/HatiCode/timequery/pkg/aggregate"
	"github.com/HatiCode/timequery/pkg/cellrange"
	"github.com/HatiCode/timequery/pkg/errcode"
)

const (
	// NoInterval selects passthrough mode.
	NoInterval int64 = -1
	// DefaultLimit is the row cap used when a plan does not set one.
	DefaultLimit = 100
)

// Plan is a validated query description. Plans are immutable once built.
type Plan struct {
	// Select lists the keys to read, in output column order.
	Select []string `json:"select"`
	// Aggregate is parallel to Select. Keys past its end are not aggregated.
	Aggregate []aggregate.Method `json:"aggregate,omitempty"`
	// Where is reserved and not evaluated.
	Where string `json:"where,omitempty"`
	// Interval is the window length in milliseconds, or NoInterval.
	Interval int64 `json:"interval"`
	// Range is the optional output target.
	Range *cellrange.Range `json:"range,omitempty"`
	// Limit caps the number of result rows.
	Limit int `json:"limit"`
	// StrictLimit turns exceeding Limit into an error instead of evicting
	// the oldest row. Set when the limit was supplied explicitly.
	StrictLimit bool `json:"strictLimit,omitempty"`
}

// Windowed reports whether the plan aggregates over intervals.
func (p Plan) Windowed() bool {
	return p.Interval != NoInterval
}

// Method returns the aggregate method configured for the i-th selected key.
func (p Plan) Method(i int) (aggregate.Method, bool) {
	if i < 0 || i >= len(p.Aggregate) {
		return aggregate.None, false
	}
	return p.Aggregate[i], true
}

// Validate checks the plan invariants.
func (p Plan) Validate() error {
	if len(p.Select) == 0 {
		return errcode.Valuef("query selects no keys")
	}
	for i, key := range p.Select {
		if key == "" {
			return errcode.Valuef("select[%d] is empty", i)
		}
	}
	if len(p.Aggregate) > len(p.Select) {
		return errcode.Valuef("%d aggregate methods for %d selected keys", len(p.Aggregate), len(p.Select))
	}
	for i, m := range p.Aggregate {
		if !m.Valid() {
			return errcode.Valuef("aggregate[%d]: unknown method %d", i, int(m))
		}
	}
	if p.Interval != NoInterval && p.Interval < 1 {
		return errcode.Valuef("interval must be at least 1ms or -1, got %d", p.Interval)
	}
	if p.Limit < 1 {
		return errcode.Valuef("limit must be at least 1, got %d", p.Limit)
	}
	return nil
}
