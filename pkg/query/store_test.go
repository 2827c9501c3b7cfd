package query

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/HatiCode/timequery/pkg/aggregate"
	"github.com/HatiCode/timequery/pkg/cellrange"
	"github.com/HatiCode/timequery/pkg/errcode"
	"github.com/HatiCode/timequery/pkg/timestore"
)

// step inserts values at now and evaluates plans, the way a host cycle does.
func step(t *testing.T, ts *timestore.Store, qs *Store, now int64, values map[string]any, plans ...Plan) error {
	t.Helper()
	if values != nil {
		if _, err := ts.Insert(now, now, values); err != nil {
			t.Fatalf("Insert(%d) error = %v", now, err)
		}
	}
	return qs.Query(now, ts, plans)
}

func TestQuery_Passthrough(t *testing.T) {
	ts := timestore.New(timestore.DefaultLimit, timestore.Unbounded)
	qs := NewStore()
	plan := Plan{Select: []string{"v1"}, Interval: NoInterval, Limit: DefaultLimit}

	for i := 1; i <= 150; i++ {
		if err := step(t, ts, qs, int64(i*100), map[string]any{"v1": i}, plan); err != nil {
			t.Fatalf("step %d: Query() error = %v", i, err)
		}

		info := qs.Info()
		values, ok := info.Values.([]any)
		if !ok {
			t.Fatalf("Info().Values = %T, want []any", info.Values)
		}
		wantLen := min(i, DefaultLimit)
		if len(values) != wantLen {
			t.Fatalf("step %d: len(values) = %d, want %d", i, len(values), wantLen)
		}
		if values[len(values)-1] != i {
			t.Fatalf("step %d: newest value = %v, want %d", i, values[len(values)-1], i)
		}
	}

	if qs.Len() != 0 {
		t.Errorf("passthrough accumulated %d windowed rows", qs.Len())
	}
}

func TestQuery_PassthroughMirrorsStore(t *testing.T) {
	ts := timestore.New(10, timestore.Unbounded)
	qs := NewStore()
	plan := Plan{Select: []string{"v"}, Interval: NoInterval, Limit: 10}

	for _, in := range []struct {
		ts int64
		v  any
	}{{30, "c"}, {10, "a"}, {20, nil}} {
		if _, err := ts.Insert(100, in.ts, map[string]any{"v": in.v}); err != nil {
			t.Fatal(err)
		}
	}
	if err := qs.Query(100, ts, []Plan{plan}); err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	got := qs.Info().Values.([]any)
	if !reflect.DeepEqual(got, ts.Values("v")) {
		t.Errorf("Info().Values = %v, want %v", got, ts.Values("v"))
	}
}

func TestQuery_WindowCount(t *testing.T) {
	ts := timestore.New(timestore.DefaultLimit, timestore.Unbounded)
	qs := NewStore()
	plan := Plan{
		Select:    []string{"v"},
		Aggregate: []aggregate.Method{aggregate.Average},
		Interval:  1000,
		Limit:     DefaultLimit,
	}

	err := step(t, ts, qs, 0, map[string]any{"v": 0}, plan)
	if !errors.Is(err, errcode.ErrNotAvailable) {
		t.Fatalf("first Query() error = %v, want ErrNotAvailable", err)
	}

	for now := int64(100); now <= 5000; now += 100 {
		err := step(t, ts, qs, now, map[string]any{"v": now}, plan)
		if now < 1000 {
			if !errors.Is(err, errcode.ErrNotAvailable) {
				t.Fatalf("Query(%d) error = %v, want ErrNotAvailable", now, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Query(%d) error = %v", now, err)
		}
	}

	rows := qs.Rows()
	if len(rows) != 5 {
		t.Fatalf("len(rows) = %d, want 5", len(rows))
	}
	for i, row := range rows {
		end := int64(1000 * (i + 1))
		if row.Time != end {
			t.Errorf("row %d time = %d, want %d", i, row.Time, end)
		}
		// window [end-1000, end) holds samples end-1000 ... end-100
		want := float64(end-1000) + 450
		if got := row.Values["v"]; got != want {
			t.Errorf("row %d avg = %v, want %v", i, got, want)
		}
	}
}

func TestQuery_NonNumericSentinels(t *testing.T) {
	ts := timestore.New(timestore.DefaultLimit, timestore.Unbounded)
	qs := NewStore()
	plan := Plan{
		Select:    []string{"v1", "v2"},
		Aggregate: []aggregate.Method{aggregate.Maximum, aggregate.Minimum},
		Interval:  20,
		Limit:     DefaultLimit,
	}

	junk := []any{"text", true, false, nil, "", "abc"}
	for i, now := 0, int64(0); now <= 40; i, now = i+1, now+10 {
		v := junk[i%len(junk)]
		_ = step(t, ts, qs, now, map[string]any{"v1": v, "v2": v}, plan)
	}

	rows := qs.Rows()
	if len(rows) == 0 {
		t.Fatal("no rows emitted")
	}
	for _, row := range rows {
		if row.Values["v1"] != aggregate.MinSafeInteger {
			t.Errorf("max(v1) = %v, want %v", row.Values["v1"], aggregate.MinSafeInteger)
		}
		if row.Values["v2"] != aggregate.MaxSafeInteger {
			t.Errorf("min(v2) = %v, want %v", row.Values["v2"], aggregate.MaxSafeInteger)
		}
	}
}

func TestQuery_StrictLimitIsSticky(t *testing.T) {
	ts := timestore.New(timestore.DefaultLimit, timestore.Unbounded)
	qs := NewStore()
	plan := Plan{
		Select:      []string{"v"},
		Aggregate:   []aggregate.Method{aggregate.Sum},
		Interval:    20,
		Limit:       1,
		StrictLimit: true,
	}

	var sawLimit bool
	for now := int64(0); now <= 100; now += 10 {
		err := step(t, ts, qs, now, map[string]any{"v": 1}, plan)
		if sawLimit {
			if !errors.Is(err, errcode.ErrLimit) {
				t.Fatalf("Query(%d) after limit error = %v, want ErrLimit", now, err)
			}
			continue
		}
		if errors.Is(err, errcode.ErrLimit) {
			sawLimit = true
		}
	}

	if !sawLimit {
		t.Fatal("strict limit never reported ErrLimit")
	}
	if qs.Len() != 1 {
		t.Errorf("Len() = %d, want 1", qs.Len())
	}

	qs.Reset()
	ts.Reset()
	if err := step(t, ts, qs, 1000, map[string]any{"v": 1}, plan); !errors.Is(err, errcode.ErrNotAvailable) {
		t.Errorf("Query() after Reset error = %v, want ErrNotAvailable", err)
	}
}

func TestQuery_DefaultLimitEvictsOldest(t *testing.T) {
	ts := timestore.New(timestore.DefaultLimit, timestore.Unbounded)
	qs := NewStore()
	plan := Plan{
		Select:    []string{"v"},
		Aggregate: []aggregate.Method{aggregate.Maximum},
		Interval:  10,
		Limit:     3,
	}

	for now := int64(0); now <= 100; now += 10 {
		if err := step(t, ts, qs, now, map[string]any{"v": now}, plan); err != nil && !errors.Is(err, errcode.ErrNotAvailable) {
			t.Fatalf("Query(%d) error = %v", now, err)
		}
	}

	rows := qs.Rows()
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	var times []int64
	for _, r := range rows {
		times = append(times, r.Time)
	}
	if !reflect.DeepEqual(times, []int64{80, 90, 100}) {
		t.Errorf("row times = %v, want [80 90 100]", times)
	}
}

func TestQuery_EmptyWindowsEmitNothing(t *testing.T) {
	ts := timestore.New(timestore.DefaultLimit, timestore.Unbounded)
	qs := NewStore()
	plan := Plan{
		Select:    []string{"v"},
		Aggregate: []aggregate.Method{aggregate.CountNumbers},
		Interval:  1000,
		Limit:     DefaultLimit,
	}

	_ = step(t, ts, qs, 0, map[string]any{"v": 1}, plan)
	for now := int64(500); now <= 3000; now += 500 {
		_ = step(t, ts, qs, now, nil, plan)
	}
	_ = step(t, ts, qs, 3500, map[string]any{"v": 2}, plan)
	for now := int64(4000); now <= 1_000_000; now += 250_000 {
		_ = step(t, ts, qs, now, nil, plan)
	}

	rows := qs.Rows()
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2: %+v", len(rows), rows)
	}
	if rows[0].Time != 1000 || rows[1].Time != 4000 {
		t.Errorf("row times = %d, %d; want 1000, 4000", rows[0].Time, rows[1].Time)
	}
	if rows[1].Values["v"] != 1.0 {
		t.Errorf("count in second window = %v, want 1", rows[1].Values["v"])
	}
}

func TestQuery_CatchUpClosesSeveralWindows(t *testing.T) {
	ts := timestore.New(timestore.DefaultLimit, timestore.Unbounded)
	qs := NewStore()
	plan := Plan{Select: []string{"v"}, Aggregate: []aggregate.Method{aggregate.Sum}, Interval: 100, Limit: 10}

	_ = qs.Query(0, ts, []Plan{plan})
	for _, tsv := range []int64{10, 150, 260} {
		if _, err := ts.Insert(tsv, tsv, map[string]any{"v": 1}); err != nil {
			t.Fatal(err)
		}
	}

	if err := qs.Query(300, ts, []Plan{plan}); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if qs.Len() != 3 {
		t.Errorf("Len() = %d, want 3", qs.Len())
	}
}

func TestQuery_RawValuesWithoutAggregate(t *testing.T) {
	ts := timestore.New(timestore.DefaultLimit, timestore.Unbounded)
	qs := NewStore()
	plan := Plan{
		Select:    []string{"a", "b"},
		Aggregate: []aggregate.Method{aggregate.Sum},
		Interval:  100,
		Limit:     10,
	}

	_ = step(t, ts, qs, 0, map[string]any{"a": 1, "b": "x"}, plan)
	_ = step(t, ts, qs, 50, map[string]any{"a": 2, "b": "y"}, plan)
	if err := step(t, ts, qs, 100, nil, plan); err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	row := qs.Rows()[0]
	if row.Values["a"] != 3.0 {
		t.Errorf("sum(a) = %v, want 3", row.Values["a"])
	}
	if !reflect.DeepEqual(row.Values["b"], []any{"x", "y"}) {
		t.Errorf("raw b = %v, want [x y]", row.Values["b"])
	}
}

func TestQuery_MultiPlanMerge(t *testing.T) {
	ts := timestore.New(timestore.DefaultLimit, timestore.Unbounded)
	qs := NewStore()
	plans := []Plan{
		{Select: []string{"v"}, Aggregate: []aggregate.Method{aggregate.Maximum}, Interval: 100, Limit: 10},
		{Select: []string{"v", "w"}, Aggregate: []aggregate.Method{aggregate.Minimum, aggregate.Sum}, Interval: 100, Limit: 10},
	}

	for now := int64(0); now <= 100; now += 25 {
		_ = step(t, ts, qs, now, map[string]any{"v": now, "w": 1}, plans...)
	}

	if got := qs.Labels(); !reflect.DeepEqual(got, []string{"v_max", "v_min", "w"}) {
		t.Fatalf("Labels() = %v", got)
	}
	rows := qs.Rows()
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	want := map[string]any{"v_max": 75.0, "v_min": 0.0, "w": 4.0}
	if !reflect.DeepEqual(rows[0].Values, want) {
		t.Errorf("row values = %v, want %v", rows[0].Values, want)
	}

	info := qs.Info()
	byKey, ok := info.Values.(map[string][]any)
	if !ok {
		t.Fatalf("Info().Values = %T, want map", info.Values)
	}
	if len(byKey["w"]) != 1 || byKey["w"][0] != 4.0 {
		t.Errorf("Info().Values[w] = %v", byKey["w"])
	}
}

func TestQuery_PlanChangeResets(t *testing.T) {
	ts := timestore.New(timestore.DefaultLimit, timestore.Unbounded)
	qs := NewStore()
	plan := Plan{Select: []string{"v"}, Aggregate: []aggregate.Method{aggregate.Sum}, Interval: 10, Limit: 1, StrictLimit: true}

	for now := int64(0); now <= 50; now += 10 {
		_ = step(t, ts, qs, now, map[string]any{"v": 1}, plan)
	}
	if err := qs.Query(60, ts, []Plan{plan}); !errors.Is(err, errcode.ErrLimit) {
		t.Fatalf("Query() error = %v, want ErrLimit", err)
	}

	plan.Limit = 50
	if err := qs.Query(60, ts, []Plan{plan}); !errors.Is(err, errcode.ErrNotAvailable) {
		t.Errorf("Query() after plan change error = %v, want ErrNotAvailable", err)
	}
	if got := qs.States(); !reflect.DeepEqual(got, []State{Accumulating}) {
		t.Errorf("States() = %v", got)
	}
}

func TestQuery_Reset(t *testing.T) {
	ts := timestore.New(timestore.DefaultLimit, timestore.Unbounded)
	qs := NewStore()
	plan := Plan{Select: []string{"v"}, Aggregate: []aggregate.Method{aggregate.Sum}, Interval: 10, Limit: 10}

	for now := int64(0); now <= 50; now += 10 {
		_ = step(t, ts, qs, now, map[string]any{"v": 1}, plan)
	}
	if qs.Len() == 0 {
		t.Fatal("expected rows before Reset")
	}

	qs.Reset()

	if qs.Len() != 0 || len(qs.Rows()) != 0 {
		t.Errorf("rows after Reset: %d", qs.Len())
	}
	if got := qs.States(); !reflect.DeepEqual(got, []State{AwaitingFirstSample}) {
		t.Errorf("States() after Reset = %v", got)
	}
}

func TestQuery_InvalidPlan(t *testing.T) {
	ts := timestore.New(1, timestore.Unbounded)
	qs := NewStore()

	tests := []struct {
		name string
		plan Plan
	}{
		{name: "no keys", plan: Plan{Interval: NoInterval, Limit: 1}},
		{name: "zero interval", plan: Plan{Select: []string{"v"}, Interval: 0, Limit: 1}},
		{name: "zero limit", plan: Plan{Select: []string{"v"}, Interval: NoInterval}},
		{name: "unknown method", plan: Plan{Select: []string{"v"}, Aggregate: []aggregate.Method{8}, Interval: 10, Limit: 1}},
		{name: "too many methods", plan: Plan{Select: []string{"v"}, Aggregate: []aggregate.Method{1, 2}, Interval: 10, Limit: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := qs.Query(0, ts, []Plan{tt.plan}); !errors.Is(err, errcode.ErrValue) {
				t.Errorf("Query() error = %v, want ErrValue", err)
			}
		})
	}
}

type recordingSink struct {
	header  []string
	rows    map[int][]any
	cleared []int
}

func (r *recordingSink) WriteHeader(columns []string) error {
	r.header = columns
	return nil
}

func (r *recordingSink) WriteRow(index int, timestamp int64, values []any) error {
	if r.rows == nil {
		r.rows = make(map[int][]any)
	}
	r.rows[index] = append([]any{timestamp}, values...)
	return nil
}

func (r *recordingSink) ClearFrom(index int) error {
	r.cleared = append(r.cleared, index)
	for i := range r.rows {
		if i >= index {
			delete(r.rows, i)
		}
	}
	return nil
}

func TestStore_Write(t *testing.T) {
	ts := timestore.New(timestore.DefaultLimit, timestore.Unbounded)
	qs := NewStore()
	plan := Plan{Select: []string{"v"}, Interval: NoInterval, Limit: 10}

	for now := int64(1); now <= 3; now++ {
		_ = step(t, ts, qs, now, map[string]any{"v": now * 10}, plan)
	}

	sink := &recordingSink{}
	if err := qs.Write(sink); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !reflect.DeepEqual(sink.header, []string{"v"}) {
		t.Errorf("header = %v", sink.header)
	}
	if len(sink.rows) != 3 || !reflect.DeepEqual(sink.rows[2], []any{int64(3), int64(30)}) {
		t.Errorf("rows = %v", sink.rows)
	}

	ts.Reset()
	qs.Reset()
	_ = step(t, ts, qs, 10, map[string]any{"v": int64(1)}, plan)
	if err := qs.Write(sink); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if len(sink.rows) != 1 {
		t.Errorf("stale rows left after shorter write: %v", sink.rows)
	}
}

func TestRangeSink(t *testing.T) {
	ts := timestore.New(timestore.DefaultLimit, timestore.Unbounded)
	qs := NewStore()
	plan := Plan{Select: []string{"a", "b"}, Interval: NoInterval, Limit: 10}

	for now := int64(1); now <= 5; now++ {
		_ = step(t, ts, qs, now, map[string]any{"a": now, "b": -now}, plan)
	}

	r, err := cellrange.Parse("D5:F8")
	if err != nil {
		t.Fatal(err)
	}
	grid := cellrange.NewGrid()
	sink := NewRangeSink(grid, r)

	if err := qs.Write(sink); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	want := [][]any{
		{"time", "a", "b"},
		{int64(3), int64(3), int64(-3)},
		{int64(4), int64(4), int64(-4)},
		{int64(5), int64(5), int64(-5)},
	}
	if got := grid.Rows(r); !reflect.DeepEqual(got, want) {
		t.Errorf("grid = %v, want %v", got, want)
	}

	ts.Reset()
	qs.Reset()
	_ = step(t, ts, qs, 9, map[string]any{"a": int64(9), "b": int64(-9)}, plan)
	if err := qs.Write(sink); err != nil {
		t.Fatal(err)
	}
	got := grid.Rows(r)
	if !reflect.DeepEqual(got[1], []any{int64(9), int64(9), int64(-9)}) {
		t.Errorf("row 1 = %v", got[1])
	}
	if len(got) != 2 {
		t.Errorf("stale rows not cleared: %v", got)
	}

	sink.Clear()
	if grid.Len() != 0 {
		t.Errorf("Clear() left %d cells", grid.Len())
	}
}

func TestQuery_StdDevWindow(t *testing.T) {
	ts := timestore.New(timestore.DefaultLimit, timestore.Unbounded)
	qs := NewStore()
	plan := Plan{Select: []string{"v"}, Aggregate: []aggregate.Method{aggregate.StdDev}, Interval: 80, Limit: 10}

	for i, v := range []int{2, 4, 4, 4, 5, 5, 7, 9} {
		_ = step(t, ts, qs, int64(i*10), map[string]any{"v": v}, plan)
	}
	if err := qs.Query(80, ts, []Plan{plan}); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got := qs.Rows()[0].Values["v"].(float64); math.Abs(got-2) > 1e-9 {
		t.Errorf("stddev = %v, want 2", got)
	}
}
