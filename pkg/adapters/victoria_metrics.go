package adapters

import (
	"context"
	"errors"
	"net/http"
)

// VictoriaMetricsAdapter samples values from VictoriaMetrics through its
// Prometheus-compatible HTTP API. Queries may use MetricsQL. Multiple series
// returned for one key are SUMMED.
type VictoriaMetricsAdapter struct {
	// ServerURL is the base URL to VictoriaMetrics, e.g. http://victoria-metrics:8428
	ServerURL string
	// Queries maps each sampled key to the MetricsQL/PromQL expression producing it.
	Queries map[string]string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (v *VictoriaMetricsAdapter) Name() string { return "victoria-metrics" }

// Sample implements Adapter.
func (v *VictoriaMetricsAdapter) Sample(ctx context.Context) (Sample, error) {
	if v.ServerURL == "" || len(v.Queries) == 0 {
		return Sample{}, errors.New("victoria metrics adapter: ServerURL and Queries are required")
	}
	return sampleInstant(ctx, "victoria-metrics", v.ServerURL, v.Queries, v.HTTPClient)
}
