package cell

import (
	"log/slog"
	"sync"

	"github.com/HatiCode/timequery/pkg/errcode"
	"github.com/HatiCode/timequery/pkg/options"
	"github.com/HatiCode/timequery/pkg/query"
	"github.com/HatiCode/timequery/pkg/timestore"
)

// IntervalCell aggregates a single value over fixed windows and reports the
// newest closed window.
type IntervalCell struct {
	name   string
	key    string
	terms  []any
	logger *slog.Logger

	mu      sync.Mutex
	times   *timestore.Store
	results *query.Store
	last    Result
}

// NewIntervalCell creates an interval cell reading key from each sample.
// terms are the interval options: the interval in seconds and the method.
func NewIntervalCell(name, key string, terms []any, logger *slog.Logger) *IntervalCell {
	if logger == nil {
		logger = slog.Default()
	}

	return &IntervalCell{
		name:    name,
		key:     key,
		terms:   terms,
		logger:  logger.With("cell", name),
		times:   timestore.New(timestore.DefaultLimit, timestore.Unbounded),
		results: query.NewStore(),
	}
}

// Name returns the cell name.
func (c *IntervalCell) Name() string { return c.name }

// OnRunStart resets both stores.
func (c *IntervalCell) OnRunStart() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.times.Reset()
	c.results.Reset()
	c.last = Result{}
}

// Step feeds the configured key of sample.
func (c *IntervalCell) Step(now int64, sample map[string]any) Result {
	return c.OnStep(now, sample[c.key], c.terms...)
}

// OnStep stores value at now and evaluates the window described by terms.
// terms must hold exactly the interval and the method.
func (c *IntervalCell) OnStep(now int64, value any, terms ...any) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := c.step(now, value, terms)
	c.last = res
	return res
}

func (c *IntervalCell) step(now int64, value any, terms []any) Result {
	opts, err := options.ReadIntervalOptions(terms...)
	if err != nil {
		return failed(err)
	}

	// Only the open window and the one closing are ever read. The period
	// bounds the store, so the entry count is left uncapped.
	c.times.SetRetention(timestore.MaxLimit, 2*opts.Interval)
	inserted, insertErr := c.times.Insert(now, now, map[string]any{options.ValueKey: value})
	if insertErr != nil {
		c.logger.Debug("sample rejected", "error", insertErr)
	}

	queryErr := c.results.Query(now, c.times, []query.Plan{opts.Plan()})

	res := Result{
		Inserted:  inserted,
		StoreSize: c.times.Size(),
		Info:      c.results.Info(),
		Rows:      c.results.Rows(),
	}
	if n := len(res.Rows); n > 0 {
		res.Value = res.Rows[n-1].Values[options.ValueKey]
	}
	if err := firstErr(insertErr, queryErr); err != nil {
		res.Code = errcode.Of(err)
		res.Error = err.Error()
	}
	return res
}

// Last returns the result of the most recent step.
func (c *IntervalCell) Last() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
