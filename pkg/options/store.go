package options

import (
	"github.com/HatiCode/timequery/pkg/errcode"
	"github.com/HatiCode/timequery/pkg/timestore"
)

// StoreOptions describes one sample insertion and the retention of the
// store receiving it.
type StoreOptions struct {
	Values    map[string]any `json:"values"`
	Period    int64          `json:"period"`
	Timestamp int64          `json:"timestamp"`
	Limit     int            `json:"limit"`
}

type storeStage int

const (
	stageValues storeStage = iota
	stagePeriod
	stageTimestamp
	stageStoreLimit
	stageStoreDone
)

// ReadStoreOptions parses the positional terms (values, period, timestamp,
// limit) of a store function. now is used when no timestamp is supplied.
//
// Period is in seconds and defaults to -1 (unbounded). The timestamp may be
// a millisecond number, a numeric string, an RFC 3339 string or a
// time.Time; booleans are rejected. Limit defaults to
// timestore.DefaultLimit.
func ReadStoreOptions(now int64, terms ...any) (StoreOptions, error) {
	opts := StoreOptions{
		Period:    timestore.Unbounded,
		Timestamp: now,
		Limit:     timestore.DefaultLimit,
	}
	if len(terms) == 0 {
		return StoreOptions{}, errcode.Valuef("values are required")
	}

	readers := [...]func(StoreOptions, any) (StoreOptions, error){
		stageValues: readValues,
		stagePeriod: readPeriod,
		stageTimestamp: func(o StoreOptions, term any) (StoreOptions, error) {
			ts, err := timestamp(now, term)
			if err != nil {
				return o, err
			}
			o.Timestamp = ts
			return o, nil
		},
		stageStoreLimit: readStoreLimit,
	}

	stage := stageValues
	for _, term := range terms {
		if stage == stageStoreDone {
			break
		}
		next, err := readers[stage](opts, term)
		if err != nil {
			return StoreOptions{}, err
		}
		opts = next
		stage++
	}
	return opts, nil
}

func readValues(o StoreOptions, term any) (StoreOptions, error) {
	values, err := object("values", term)
	if err != nil {
		return o, err
	}
	o.Values = values
	return o, nil
}

func readPeriod(o StoreOptions, term any) (StoreOptions, error) {
	ms, err := duration("period", term)
	if err != nil {
		return o, err
	}
	o.Period = ms
	return o, nil
}

func readStoreLimit(o StoreOptions, term any) (StoreOptions, error) {
	if absent(term) {
		return o, nil
	}
	n, err := count("limit", term)
	if err != nil {
		return o, err
	}
	o.Limit = n
	return o, nil
}
