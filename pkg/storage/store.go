// Package storage publishes the latest result of each cell.
//
// Implementations:
//   - MemoryStore - process-local map with optional TTL sweeping
//   - RedisStore  - shared Redis backend for multi-instance deployments
//   - BadgerStore - embedded on-disk store that survives restarts
//
// The remote and on-disk stores keep snapshots as zstd-compressed JSON.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/HatiCode/timequery/pkg/cell"
	"github.com/HatiCode/timequery/pkg/errcode"
	"github.com/HatiCode/timequery/pkg/query"
)

// Snapshot is the published result of one cell step.
type Snapshot struct {
	Cell        string       `json:"cell"`
	GeneratedAt time.Time    `json:"generatedAt"`
	Code        errcode.Code `json:"code,omitempty"`
	Error       string       `json:"error,omitempty"`
	Columns     []string     `json:"columns"`
	Rows        []query.Row  `json:"rows"`
	Info        query.Info   `json:"info"`
	Value       any          `json:"value,omitempty"`
	StoreSize   int          `json:"storeSize"`
}

// NewSnapshot builds the snapshot of a step result.
func NewSnapshot(name string, at time.Time, res cell.Result) Snapshot {
	return Snapshot{
		Cell:        name,
		GeneratedAt: at,
		Code:        res.Code,
		Error:       res.Error,
		Columns:     res.Info.Columns,
		Rows:        res.Rows,
		Info:        res.Info,
		Value:       res.Value,
		StoreSize:   res.StoreSize,
	}
}

type Store interface {
	Put(ctx context.Context, snapshot Snapshot) error
	GetLatest(ctx context.Context, cell string) (Snapshot, bool, error)
}

// Deleter is implemented by stores that can drop the snapshot of a cell.
type Deleter interface {
	Delete(ctx context.Context, cell string) (bool, error)
}

var (
	_ Deleter = (*MemoryStore)(nil)
	_ Deleter = (*RedisStore)(nil)
	_ Deleter = (*BadgerStore)(nil)
)

// ValidateCellName checks that name can be used as a storage key segment.
func ValidateCellName(name string) error {
	if name == "" {
		return fmt.Errorf("cell name required")
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("invalid cell name %q: only alphanumeric, hyphens, and underscores allowed", name)
		}
	}
	return nil
}
