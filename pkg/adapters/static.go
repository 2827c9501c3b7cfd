package adapters

import (
	"context"
	"maps"
	"time"
)

// StaticAdapter returns the same values on every sample.
type StaticAdapter struct {
	Values Row
	// Now is optional; if nil time.Now is used.
	Now func() time.Time
}

func (s *StaticAdapter) Name() string { return "static" }

// Sample implements Adapter.
func (s *StaticAdapter) Sample(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return Sample{Time: now().UTC(), Values: maps.Clone(s.Values)}, nil
}
