package cell

import (
	"log/slog"
	"sync"

	"github.com/HatiCode/timequery/pkg/cellrange"
	"github.com/HatiCode/timequery/pkg/errcode"
	"github.com/HatiCode/timequery/pkg/options"
	"github.com/HatiCode/timequery/pkg/query"
	"github.com/HatiCode/timequery/pkg/timestore"
)

// QueryCell stores one snapshot per step and evaluates one or more queries
// over the stored history.
type QueryCell struct {
	name       string
	storeTerms []any
	queryTerms [][]any
	logger     *slog.Logger

	mu      sync.Mutex
	times   *timestore.Store
	results *query.Store
	grid    *cellrange.Grid
	sink    *query.RangeSink
	last    Result
}

// NewQueryCell creates a query cell. storeTerms are the store options that
// follow the sampled values (period, timestamp, limit); each element of
// queryTerms is the option list of one query.
func NewQueryCell(name string, storeTerms []any, queryTerms [][]any, logger *slog.Logger) *QueryCell {
	if logger == nil {
		logger = slog.Default()
	}

	return &QueryCell{
		name:       name,
		storeTerms: storeTerms,
		queryTerms: queryTerms,
		logger:     logger.With("cell", name),
		times:      timestore.New(timestore.DefaultLimit, timestore.Unbounded),
		results:    query.NewStore(),
		grid:       cellrange.NewGrid(),
	}
}

// Name returns the cell name.
func (c *QueryCell) Name() string { return c.name }

// OnRunStart resets both stores and clears any range written before.
func (c *QueryCell) OnRunStart() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.times.Reset()
	c.results.Reset()
	if c.sink != nil {
		c.sink.Clear()
	}
	c.last = Result{}
	c.logger.Debug("run started")
}

// Step stores sample with the configured terms.
func (c *QueryCell) Step(now int64, sample map[string]any) Result {
	storeTerms := append([]any{sample}, c.storeTerms...)
	return c.OnStep(now, storeTerms, c.queryTerms...)
}

// OnStep parses the store and query terms, inserts the sample, evaluates the
// queries and writes the output range.
//
// A failed insertion does not stop the query: the result then carries the
// insertion error together with the current rows.
func (c *QueryCell) OnStep(now int64, storeTerms []any, queryTerms ...[]any) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := c.step(now, storeTerms, queryTerms)
	c.last = res
	return res
}

func (c *QueryCell) step(now int64, storeTerms []any, queryTerms [][]any) Result {
	opts, err := options.ReadStoreOptions(now, storeTerms...)
	if err != nil {
		return failed(err)
	}

	plans := make([]query.Plan, 0, len(queryTerms))
	var target *cellrange.Range
	for _, terms := range queryTerms {
		plan, err := options.ReadQueryOptions(terms...)
		if err != nil {
			return failed(err)
		}
		if target == nil && plan.Range != nil {
			target = plan.Range
		}
		plans = append(plans, plan)
	}

	c.times.SetRetention(opts.Limit, opts.Period)
	inserted, insertErr := c.times.Insert(now, opts.Timestamp, opts.Values)
	if insertErr != nil {
		c.logger.Debug("sample rejected", "error", insertErr, "size", c.times.Size())
	}

	var queryErr error
	if len(plans) > 0 {
		queryErr = c.results.Query(now, c.times, plans)
	}

	c.retarget(target)
	if c.sink != nil {
		if err := c.results.Write(c.sink); err != nil {
			queryErr = firstErr(queryErr, err)
		}
	}

	res := Result{
		Inserted:  inserted,
		StoreSize: c.times.Size(),
		Info:      c.results.Info(),
		Rows:      c.results.Rows(),
	}
	if err := firstErr(insertErr, queryErr); err != nil {
		res.Code = errcode.Of(err)
		res.Error = err.Error()
	}
	return res
}

// retarget moves the output range, clearing the old region when it changes.
func (c *QueryCell) retarget(r *cellrange.Range) {
	switch {
	case r == nil && c.sink == nil:
	case r == nil:
		c.sink.Clear()
		c.sink = nil
	case c.sink == nil:
		c.sink = query.NewRangeSink(c.grid, *r)
	case c.sink.Range != *r:
		c.sink.Clear()
		c.sink = query.NewRangeSink(c.grid, *r)
	}
}

// Last returns the result of the most recent step.
func (c *QueryCell) Last() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Range returns the current output range and its contents. ok is false when
// no query targets a range.
func (c *QueryCell) Range() (r cellrange.Range, cells [][]any, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sink == nil {
		return cellrange.Range{}, nil, false
	}
	return c.sink.Range, c.grid.Rows(c.sink.Range), true
}
