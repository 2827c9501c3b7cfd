// Package aggregate reduces a window of loosely typed values to one number.
//
// Only numeric values take part in a reduction. Numbers of any Go numeric
// type and strings that parse as finite numbers are numeric; booleans, nil,
// empty or non-numeric strings, NaN and infinities are ignored.
package aggregate

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/HatiCode/timequery/pkg/errcode"
)

// Method selects the reduction applied to a window.
type Method int

const (
	None         Method = 0
	Average      Method = 1
	Maximum      Method = 2
	CountNonZero Method = 3
	Minimum      Method = 4
	CountNumbers Method = 5
	Product      Method = 6
	StdDev       Method = 7
	Sum          Method = 9
)

const (
	// MaxSafeInteger is the empty result of Minimum.
	MaxSafeInteger = float64(1<<53 - 1)
	// MinSafeInteger is the empty result of Maximum.
	MinSafeInteger = -MaxSafeInteger
)

type reducer func(values []float64) float64

var reducers = map[Method]reducer{
	None:         last,
	Average:      average,
	Maximum:      maximum,
	CountNonZero: countNonZero,
	Minimum:      minimum,
	CountNumbers: countNumbers,
	Product:      product,
	StdDev:       stdDev,
	Sum:          sum,
}

var names = map[Method]string{
	None:         "none",
	Average:      "avg",
	Maximum:      "max",
	CountNonZero: "count",
	Minimum:      "min",
	CountNumbers: "countn",
	Product:      "product",
	StdDev:       "stddev",
	Sum:          "sum",
}

var aliases = map[string]Method{
	"none":    None,
	"avg":     Average,
	"average": Average,
	"max":     Maximum,
	"count":   CountNonZero,
	"min":     Minimum,
	"countn":  CountNumbers,
	"product": Product,
	"stddev":  StdDev,
	"stdev":   StdDev,
	"sum":     Sum,
}

// String returns the short name of the method.
func (m Method) String() string {
	if n, ok := names[m]; ok {
		return n
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	_, ok := reducers[m]
	return ok
}

// ParseMethod parses a method given as a code ("2"), a name ("max") or the
// combined form "max(2)". In the combined form the code wins and the name
// must agree with it.
func ParseMethod(token string) (Method, error) {
	tok := strings.ToLower(strings.TrimSpace(token))
	if tok == "" {
		return None, errcode.Valuef("empty aggregate method")
	}

	if open := strings.IndexByte(tok, '('); open > 0 && strings.HasSuffix(tok, ")") {
		name := strings.TrimSpace(tok[:open])
		m, err := parseCode(strings.TrimSpace(tok[open+1 : len(tok)-1]))
		if err != nil {
			return None, err
		}
		if byName, ok := aliases[name]; ok && byName != m {
			return None, errcode.Valuef("aggregate %q: name and code disagree", token)
		}
		return m, nil
	}

	if m, ok := aliases[tok]; ok {
		return m, nil
	}
	return parseCode(tok)
}

func parseCode(s string) (Method, error) {
	code, err := strconv.Atoi(s)
	if err != nil {
		return None, errcode.Valuef("unknown aggregate method %q", s)
	}
	m := Method(code)
	if !m.Valid() {
		return None, errcode.Valuef("unknown aggregate method code %d", code)
	}
	return m, nil
}

// Reduce applies m to the numeric subset of values. Unknown methods reduce
// to 0; plans reject them before they reach this point.
func Reduce(m Method, values []any) float64 {
	r, ok := reducers[m]
	if !ok {
		return 0
	}
	return r(Numbers(values))
}

// Numbers returns the numeric subset of values, in order.
func Numbers(values []any) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if f, ok := Numeric(v); ok {
			out = append(out, f)
		}
	}
	return out
}

// Numeric converts v to a float64 if it is a finite number or a string
// holding one.
func Numeric(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func last(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return v[len(v)-1]
}

func average(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return sum(v) / float64(len(v))
}

func maximum(v []float64) float64 {
	res := MinSafeInteger
	for i, x := range v {
		if i == 0 || x > res {
			res = x
		}
	}
	return res
}

func minimum(v []float64) float64 {
	res := MaxSafeInteger
	for i, x := range v {
		if i == 0 || x < res {
			res = x
		}
	}
	return res
}

func countNonZero(v []float64) float64 {
	n := 0
	for _, x := range v {
		if x != 0 {
			n++
		}
	}
	return float64(n)
}

func countNumbers(v []float64) float64 {
	return float64(len(v))
}

// product of an empty window is 0, not the multiplicative identity.
func product(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	res := 1.0
	for _, x := range v {
		res *= x
	}
	return res
}

// stdDev is the population standard deviation (Welford).
func stdDev(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var mean, m2 float64
	for i, x := range v {
		delta := x - mean
		mean += delta / float64(i+1)
		m2 += delta * (x - mean)
	}
	return math.Sqrt(m2 / float64(len(v)))
}

func sum(v []float64) float64 {
	var res float64
	for _, x := range v {
		res += x
	}
	return res
}
