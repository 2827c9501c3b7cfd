package adapters

import (
	"fmt"
	"net/http"
)

// New creates an adapter based on kind and a generic configuration map, as
// decoded from YAML or JSON.
// This is the central extension point for adding new adapter types.
//
// Supported kinds:
//   - "prometheus": Prometheus adapter
//   - "victoriametrics": VictoriaMetrics adapter
//   - "http": Generic HTTP adapter
//   - "static": Fixed values
//
// Returns error if kind is unknown or required fields are missing.
func New(kind string, config map[string]any) (Adapter, error) {
	switch kind {
	case "prometheus":
		return newPrometheus(config)
	case "victoriametrics":
		return newVictoriaMetrics(config)
	case "http":
		return ParseHTTPAdapterConfig(config)
	case "static":
		return newStatic(config)
	default:
		return nil, fmt.Errorf("unknown adapter kind: %s (must be prometheus, victoriametrics, http or static)", kind)
	}
}

// WithHTTPClient makes a network adapter use client for its requests.
// Adapters that do not talk HTTP are returned unchanged.
func WithHTTPClient(a Adapter, client *http.Client) Adapter {
	switch t := a.(type) {
	case *PrometheusAdapter:
		t.HTTPClient = client
	case *VictoriaMetricsAdapter:
		t.HTTPClient = client
	case *HTTPAdapter:
		t.HTTPClient = client
	}
	return a
}

// newPrometheus creates a Prometheus adapter from generic config.
func newPrometheus(config map[string]any) (Adapter, error) {
	queries, err := stringMap(config, "queries")
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("prometheus adapter requires 'queries' config")
	}

	url := stringValue(config, "url")
	if url == "" {
		url = "http://localhost:9090"
	}

	return &PrometheusAdapter{
		ServerURL: url,
		Queries:   queries,
	}, nil
}

// newVictoriaMetrics creates a VictoriaMetrics adapter from generic config.
func newVictoriaMetrics(config map[string]any) (Adapter, error) {
	queries, err := stringMap(config, "queries")
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("victoriametrics adapter requires 'queries' config")
	}

	url := stringValue(config, "url")
	if url == "" {
		url = "http://localhost:8428"
	}

	return &VictoriaMetricsAdapter{
		ServerURL: url,
		Queries:   queries,
	}, nil
}

func newStatic(config map[string]any) (Adapter, error) {
	values, ok := config["values"].(map[string]any)
	if !ok || len(values) == 0 {
		return nil, fmt.Errorf("static adapter requires 'values' config")
	}
	return &StaticAdapter{Values: Row(values)}, nil
}

// ParseHTTPAdapterConfig creates an HTTPAdapter from a generic config map.
//
// Example config:
//
//	{
//	  "url": "https://api.example.com/status",
//	  "method": "POST",
//	  "headers": {"Authorization": "Bearer {{.Token}}"},
//	  "body": "{\"at\": {{.NowMilli}}}",
//	  "paths": {"queue": "stats.queue.depth"},
//	  "timestampPath": "stats.updated",
//	  "timestampFormat": "rfc3339",
//	  "templateVars": {"Token": "secret"}
//	}
func ParseHTTPAdapterConfig(config map[string]any) (*HTTPAdapter, error) {
	adapter := &HTTPAdapter{
		URL:             stringValue(config, "url"),
		Method:          stringValue(config, "method"),
		Body:            stringValue(config, "body"),
		TimestampPath:   stringValue(config, "timestampPath"),
		TimestampFormat: stringValue(config, "timestampFormat"),
	}

	var err error
	if adapter.Paths, err = stringMap(config, "paths"); err != nil {
		return nil, err
	}
	if adapter.Headers, err = stringMap(config, "headers"); err != nil {
		return nil, err
	}
	if adapter.TemplateVars, err = stringMap(config, "templateVars"); err != nil {
		return nil, err
	}

	if err := adapter.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http adapter: %w", err)
	}
	return adapter, nil
}

func stringValue(config map[string]any, key string) string {
	s, _ := config[key].(string)
	return s
}

// stringMap reads a nested map whose values must all be strings.
func stringMap(config map[string]any, key string) (map[string]string, error) {
	raw, ok := config[key]
	if !ok || raw == nil {
		return nil, nil
	}

	switch m := raw.(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, v := range m {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s.%s must be a string, got %T", key, k, v)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a map, got %T", key, raw)
	}
}
