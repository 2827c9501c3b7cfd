// Package options turns loosely typed, positional host terms into validated
// query plans and store settings.
//
// Each reader walks its terms through a fixed sequence of stages. A stage
// consumes one term and either advances or fails; the first failure ends the
// parse and is the error returned for the whole call.
package options

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/timequery/pkg/aggregate"
	"github.com/HatiCode/timequery/pkg/errcode"
)

// minSeconds is the smallest accepted duration, one millisecond.
const minSeconds = 0.001

// absent reports whether a term counts as not supplied.
func absent(term any) bool {
	if term == nil {
		return true
	}
	s, ok := term.(string)
	return ok && strings.TrimSpace(s) == ""
}

// number parses a term strictly. Booleans and non-numeric strings fail.
func number(name string, term any) (float64, error) {
	if _, ok := term.(bool); ok {
		return 0, errcode.Valuef("%s: boolean is not a number", name)
	}
	n, ok := aggregate.Numeric(term)
	if !ok {
		return 0, errcode.Valuef("%s: %v is not a number", name, term)
	}
	return n, nil
}

// duration reads a term in seconds and returns milliseconds. Absent terms
// and exactly -1 yield -1.
func duration(name string, term any) (int64, error) {
	if absent(term) {
		return -1, nil
	}
	n, err := number(name, term)
	if err != nil {
		return 0, err
	}
	if n == -1 {
		return -1, nil
	}
	if n < minSeconds {
		return 0, errcode.Valuef("%s must be at least %g seconds or -1, got %g", name, minSeconds, n)
	}
	ms := math.Round(n * 1000)
	if math.IsNaN(ms) || ms >= math.MaxInt64 {
		return 0, errcode.Valuef("%s of %g seconds is out of range", name, n)
	}
	return max(int64(ms), 1), nil
}

// count reads a positive row or entry count. Fractions are truncated and
// the result is clamped to at least 1.
func count(name string, term any) (int, error) {
	n, err := number(name, term)
	if err != nil {
		return 0, err
	}
	n = math.Trunc(n)
	if n < 1 {
		return 1, nil
	}
	if n > math.MaxInt32 {
		return math.MaxInt32, nil
	}
	return int(n), nil
}

// object normalizes a map or JSON object term into a generic map.
func object(name string, term any) (map[string]any, error) {
	switch v := term.(type) {
	case map[string]any:
		return v, nil
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, nil
	case string:
		if !gjson.Valid(v) {
			return nil, errcode.Valuef("%s: invalid JSON", name)
		}
		r := gjson.Parse(v)
		if !r.IsObject() {
			return nil, errcode.Valuef("%s: expected an object", name)
		}
		m, _ := r.Value().(map[string]any)
		return m, nil
	case nil:
		return nil, errcode.Valuef("%s is required", name)
	default:
		return nil, errcode.Valuef("%s: expected an object, got %T", name, term)
	}
}

// list splits a comma separated string term, or accepts a list of strings.
// Entries are trimmed.
func list(name string, term any) ([]string, error) {
	var parts []string
	switch v := term.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		parts = strings.Split(v, ",")
	case []string:
		parts = v
	case []any:
		parts = make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprint(item)
		}
	default:
		return nil, errcode.Valuef("%s: expected a comma separated string, got %T", name, term)
	}

	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
		if out[i] == "" {
			return nil, errcode.Valuef("%s: entry %d is empty", name, i)
		}
	}
	return out, nil
}

// methods parses aggregate method tokens.
func methods(tokens []string) ([]aggregate.Method, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	out := make([]aggregate.Method, len(tokens))
	for i, tok := range tokens {
		m, err := aggregate.ParseMethod(tok)
		if err != nil {
			return nil, fmt.Errorf("aggregate[%d]: %w", i, err)
		}
		out[i] = m
	}
	return out, nil
}

// timestamp resolves a sample time in milliseconds. Absent terms use now.
func timestamp(now int64, term any) (int64, error) {
	if absent(term) {
		return now, nil
	}
	switch v := term.(type) {
	case bool:
		return 0, errcode.Valuef("timestamp: boolean is not a time")
	case time.Time:
		return v.UnixMilli(), nil
	case string:
		s := strings.TrimSpace(v)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UnixMilli(), nil
		}
	}
	n, err := number("timestamp", term)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(n) || n >= math.MaxInt64 || n < math.MinInt64 {
		return 0, errcode.Valuef("timestamp %g is out of range", n)
	}
	return int64(n), nil
}
