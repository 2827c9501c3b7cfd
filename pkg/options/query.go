package options

import (
	"strconv"

	"github.com/HatiCode/timequery/pkg/aggregate"
	"github.com/HatiCode/timequery/pkg/cellrange"
	"github.com/HatiCode/timequery/pkg/errcode"
	"github.com/HatiCode/timequery/pkg/query"
)

type queryStage int

const (
	stageQuery queryStage = iota
	stageInterval
	stageRange
	stageLimit
	stageDone
)

// queryReaders holds one reader per stage. Each receives the plan built so
// far by value and returns the extended copy.
var queryReaders = [...]func(query.Plan, any) (query.Plan, error){
	stageQuery:    readQuery,
	stageInterval: readInterval,
	stageRange:    readRange,
	stageLimit:    readLimit,
}

// ReadQueryOptions parses the positional terms (query, interval, range,
// limit) of a query function into a plan.
//
// The query term is an object with a comma separated "select" and optional
// "aggregate" and "where" fields, given as a map or a JSON string. Interval
// is in seconds and defaults to -1. Limit defaults to query.DefaultLimit;
// when supplied it is strict. Terms past the limit are ignored.
func ReadQueryOptions(terms ...any) (query.Plan, error) {
	plan := query.Plan{Interval: query.NoInterval, Limit: query.DefaultLimit}
	if len(terms) == 0 {
		return query.Plan{}, errcode.Valuef("query is required")
	}

	stage := stageQuery
	for _, term := range terms {
		if stage == stageDone {
			break
		}
		next, err := queryReaders[stage](plan, term)
		if err != nil {
			return query.Plan{}, err
		}
		plan = next
		stage++
	}

	return plan, plan.Validate()
}

func readQuery(p query.Plan, term any) (query.Plan, error) {
	obj, err := object("query", term)
	if err != nil {
		return p, err
	}

	sel, ok := obj["select"]
	if !ok {
		return p, errcode.Valuef("query: select is required")
	}
	keys, err := list("select", sel)
	if err != nil {
		return p, err
	}
	if len(keys) == 0 {
		return p, errcode.Valuef("query: select is empty")
	}

	tokens, err := list("aggregate", obj["aggregate"])
	if err != nil {
		return p, err
	}
	ms, err := methods(tokens)
	if err != nil {
		return p, err
	}
	if len(ms) > len(keys) {
		return p, errcode.Valuef("query: %d aggregate methods for %d selected keys", len(ms), len(keys))
	}

	p.Select = keys
	p.Aggregate = ms
	if where, ok := obj["where"].(string); ok {
		p.Where = where
	}
	return p, nil
}

func readInterval(p query.Plan, term any) (query.Plan, error) {
	ms, err := duration("interval", term)
	if err != nil {
		return p, err
	}
	p.Interval = ms
	return p, nil
}

func readRange(p query.Plan, term any) (query.Plan, error) {
	if absent(term) {
		return p, nil
	}
	switch v := term.(type) {
	case string:
		r, err := cellrange.Parse(v)
		if err != nil {
			return p, err
		}
		p.Range = &r
	case cellrange.Range:
		p.Range = &v
	case *cellrange.Range:
		r := *v
		p.Range = &r
	default:
		return p, errcode.Valuef("range: expected a cell range, got %T", term)
	}
	return p, nil
}

func readLimit(p query.Plan, term any) (query.Plan, error) {
	if absent(term) {
		return p, nil
	}
	n, err := count("limit", term)
	if err != nil {
		return p, err
	}
	p.Limit = n
	p.StrictLimit = true
	return p, nil
}

// IntervalOptions configures an interval function: one value aggregated
// over fixed windows.
type IntervalOptions struct {
	Interval int64            `json:"interval"`
	Method   aggregate.Method `json:"method"`
}

// ValueKey is the store key interval functions sample into.
const ValueKey = "value"

// Plan returns the single windowed plan the options describe.
func (o IntervalOptions) Plan() query.Plan {
	return query.Plan{
		Select:    []string{ValueKey},
		Aggregate: []aggregate.Method{o.Method},
		Interval:  o.Interval,
		Limit:     query.DefaultLimit,
	}
}

// ReadIntervalOptions parses exactly two terms: the interval in seconds and
// the aggregate method. Any other count is an errcode.ErrArgs error.
func ReadIntervalOptions(terms ...any) (IntervalOptions, error) {
	if len(terms) != 2 {
		return IntervalOptions{}, errcode.Argsf("interval takes 2 arguments, got %d", len(terms))
	}

	if absent(terms[0]) {
		return IntervalOptions{}, errcode.Valuef("interval is required")
	}
	ms, err := duration("interval", terms[0])
	if err != nil {
		return IntervalOptions{}, err
	}
	if ms == -1 {
		return IntervalOptions{}, errcode.Valuef("interval must be at least %g seconds", minSeconds)
	}

	token, ok := methodToken(terms[1])
	if !ok {
		return IntervalOptions{}, errcode.Valuef("method: expected a name or code, got %T", terms[1])
	}
	m, err := aggregate.ParseMethod(token)
	if err != nil {
		return IntervalOptions{}, err
	}

	return IntervalOptions{Interval: ms, Method: m}, nil
}

func methodToken(term any) (string, bool) {
	if s, ok := term.(string); ok {
		return s, true
	}
	if _, ok := term.(bool); ok {
		return "", false
	}
	n, ok := aggregate.Numeric(term)
	if !ok || n != float64(int(n)) {
		return "", false
	}
	return strconv.Itoa(int(n)), true
}
