// Package cell hosts time functions the way a cyclic evaluation engine
// drives them.
//
// A cell owns one time store and one query store. The engine calls
// OnRunStart when a run begins and OnStep once per cycle; every call is
// synchronous and bounded by the store limits. Cells guard their state with
// a mutex so that readers (HTTP handlers, gRPC) can observe them while the
// engine steps.
package cell

import (
	"github.com/HatiCode/timequery/pkg/errcode"
	"github.com/HatiCode/timequery/pkg/query"
)

// Result is the outcome of one step.
type Result struct {
	// Code is the host error code, empty on success.
	Code  errcode.Code `json:"code,omitempty"`
	Error string       `json:"error,omitempty"`
	// Inserted reports whether the step's sample was stored.
	Inserted  bool        `json:"inserted"`
	StoreSize int         `json:"storeSize"`
	Info      query.Info  `json:"info"`
	Rows      []query.Row `json:"rows"`
	// Value is the newest aggregated value of an interval cell.
	Value any `json:"value,omitempty"`
}

// Cell is a host function instance driven by a scheduler.
type Cell interface {
	Name() string
	// OnRunStart discards all stored samples and results.
	OnRunStart()
	// Step feeds one sampled snapshot taken at now.
	Step(now int64, sample map[string]any) Result
	// Last returns the result of the most recent step.
	Last() Result
}

var (
	_ Cell = (*QueryCell)(nil)
	_ Cell = (*IntervalCell)(nil)
)

func failed(err error) Result {
	return Result{Code: errcode.Of(err), Error: err.Error()}
}

// firstErr returns the first non-nil error.
func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
