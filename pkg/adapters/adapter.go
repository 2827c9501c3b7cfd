// Package adapters provides the data sources that feed time cells. Each
// adapter takes one snapshot of named values per evaluation cycle.
//
// Available adapters:
//   - PrometheusAdapter      - instant PromQL queries via the Prometheus HTTP API
//   - VictoriaMetricsAdapter - the same queries against VictoriaMetrics
//   - HTTPAdapter            - any REST API with JSON responses, values picked by gjson paths
//   - StaticAdapter          - fixed values, for demos and tests
//
// Adapters only fetch and shape values. Storage, windowing and aggregation
// happen in the cell that consumes the sample.
package adapters

import (
	"context"
	"time"
)

// Row holds the values of one snapshot by key.
// Example: {"rps": 312.4, "errors": 3, "region": "eu-west-1"}
type Row map[string]any

// Sample is one snapshot of values taken at Time.
type Sample struct {
	Time   time.Time
	Values Row
}

// Adapter is the interface that all sources implement.
//
// Sample is synchronous and must respect context cancellation and
// deadlines. A key whose value could not be found is reported with a nil
// value rather than omitted, so that cells see a missing value for a known
// key.
type Adapter interface {
	Sample(ctx context.Context) (Sample, error)

	// Name returns a short identifier for the adapter.
	// Example: "prometheus", "http".
	Name() string
}
