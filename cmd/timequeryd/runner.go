// Package main implements the evaluation cycle of timequeryd.
//
// This file contains the Runner, which drives every configured cell once per
// cycle:
//
//	sample adapter → cell.Step → publish snapshot → broadcast to stream
//
// Cells are independent, so one cycle steps them concurrently. A failing
// adapter only skips its own cell for that cycle.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/HatiCode/timequery/cmd/timequeryd/metrics"
	"github.com/HatiCode/timequery/pkg/adapters"
	"github.com/HatiCode/timequery/pkg/cell"
	"github.com/HatiCode/timequery/pkg/storage"
	"github.com/HatiCode/timequery/pkg/stream"
)

// ErrUnknownCell is returned for operations on a cell that is not configured.
var ErrUnknownCell = errors.New("unknown cell")

// Binding pairs a cell with the adapter that feeds it.
type Binding struct {
	Cell    cell.Cell
	Adapter adapters.Adapter
}

// Runner orchestrates the evaluation cycle of all cells.
type Runner struct {
	bindings      []Binding
	byName        map[string]Binding
	locks         map[string]*sync.Mutex
	store         storage.Store
	hub           *stream.Hub
	sampleTimeout time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

// NewRunner creates a Runner. hub and m may be nil.
func NewRunner(
	bindings []Binding,
	store storage.Store,
	hub *stream.Hub,
	sampleTimeout time.Duration,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if sampleTimeout <= 0 {
		sampleTimeout = 5 * time.Second
	}

	byName := make(map[string]Binding, len(bindings))
	locks := make(map[string]*sync.Mutex, len(bindings))
	for _, b := range bindings {
		byName[b.Cell.Name()] = b
		locks[b.Cell.Name()] = &sync.Mutex{}
	}

	return &Runner{
		bindings:      bindings,
		byName:        byName,
		locks:         locks,
		store:         store,
		hub:           hub,
		sampleTimeout: sampleTimeout,
		logger:        logger,
		metrics:       m,
		now:           time.Now,
	}
}

// Run starts a run of every cell and evaluates them at regular intervals.
// Blocks until context is canceled.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	r.logger.Info("starting evaluation loop", "interval", interval, "cells", len(r.bindings))

	for _, b := range r.bindings {
		b.Cell.OnRunStart()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := r.Tick(ctx); err != nil {
		r.logger.Error("initial tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("evaluation loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.logger.Error("tick failed", "error", err)
			}
		}
	}
}

// Tick performs one evaluation cycle over every cell.
// Exported for testing purposes.
func (r *Runner) Tick(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, b := range r.bindings {
		wg.Add(1)
		go func(b Binding) {
			defer wg.Done()
			if err := r.step(ctx, b); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("cell %s: %w", b.Cell.Name(), err))
				mu.Unlock()
			}
		}(b)
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (r *Runner) step(ctx context.Context, b Binding) error {
	name := b.Cell.Name()

	sample, err := r.sample(ctx, b)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordError("adapter", "sample_failed")
		}
		return fmt.Errorf("sample: %w", err)
	}

	at := sample.Time
	if at.IsZero() {
		at = r.now()
	}

	// Held until the snapshot is published so a concurrent Restart cannot
	// be followed by a snapshot of the previous run.
	lock := r.locks[name]
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	res := b.Cell.Step(at.UnixMilli(), sample.Values)
	stepDuration := time.Since(start)

	if r.metrics != nil {
		r.metrics.RecordStep(name, res.Code, stepDuration.Seconds())
		r.metrics.SetStoreSize(name, res.StoreSize)
		r.metrics.SetResultRows(name, len(res.Rows))
	}

	if res.Code != "" {
		r.logger.Debug("cell step reported a code", "cell", name, "code", res.Code, "error", res.Error)
	}

	snapshot := storage.NewSnapshot(name, r.now(), res)
	if err := r.store.Put(ctx, snapshot); err != nil {
		if r.metrics != nil {
			r.metrics.RecordError("store", "put_failed")
		}
		return fmt.Errorf("store: %w", err)
	}

	r.broadcast(snapshot)

	r.logger.Debug("cell step complete",
		"cell", name,
		"code", res.Code,
		"store_size", res.StoreSize,
		"rows", len(res.Rows),
		"step_us", stepDuration.Microseconds(),
	)
	return nil
}

func (r *Runner) sample(ctx context.Context, b Binding) (adapters.Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, r.sampleTimeout)
	defer cancel()

	start := time.Now()
	sample, err := b.Adapter.Sample(ctx)
	if err != nil {
		return adapters.Sample{}, err
	}
	if r.metrics != nil {
		r.metrics.RecordSample(b.Cell.Name(), b.Adapter.Name(), time.Since(start).Seconds())
	}
	return sample, nil
}

func (r *Runner) broadcast(s storage.Snapshot) {
	if r.hub == nil {
		return
	}
	payload, err := json.Marshal(s)
	if err != nil {
		r.logger.Error("failed to encode snapshot for stream", "cell", s.Cell, "error", err)
		return
	}
	if !r.hub.Broadcast(s.Cell, payload) && r.metrics != nil {
		r.metrics.RecordStreamDrop(s.Cell)
	}
}

// Restart starts a new run of one cell: its stores are reset and its
// published snapshot is removed when the store supports deletion.
func (r *Runner) Restart(ctx context.Context, name string) error {
	b, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCell, name)
	}

	lock := r.locks[name]
	lock.Lock()
	defer lock.Unlock()

	b.Cell.OnRunStart()

	if d, ok := r.store.(storage.Deleter); ok {
		if _, err := d.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete snapshot: %w", err)
		}
	}

	r.logger.Info("cell restarted", "cell", name)
	return nil
}

// Names returns the configured cell names in sorted order.
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Cell returns the named cell.
func (r *Runner) Cell(name string) (cell.Cell, bool) {
	b, ok := r.byName[name]
	return b.Cell, ok
}

// Has reports whether name is a configured cell.
func (r *Runner) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}
