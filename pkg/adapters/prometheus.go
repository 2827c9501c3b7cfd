package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// PrometheusAdapter samples values from the Prometheus HTTP API. Every key
// of Queries is evaluated as an instant query (/api/v1/query) at the sample
// time.
//
// If a query returns multiple series, their values are SUMMED. A query
// returning no series yields a nil value for its key.
type PrometheusAdapter struct {
	// ServerURL is the base URL to Prometheus, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Queries maps each sampled key to the PromQL expression producing it.
	Queries map[string]string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusAdapter) Name() string { return "prometheus" }

// Sample implements Adapter.
func (p *PrometheusAdapter) Sample(ctx context.Context) (Sample, error) {
	if p.ServerURL == "" || len(p.Queries) == 0 {
		return Sample{}, errors.New("prometheus adapter: ServerURL and Queries are required")
	}
	return sampleInstant(ctx, "prometheus", p.ServerURL, p.Queries, p.HTTPClient)
}

// PrometheusInstantResponse represents an instant query response from
// Prometheus and compatible systems.
type PrometheusInstantResponse struct {
	Status string                `json:"status"`
	Error  string                `json:"error,omitempty"`
	Data   PrometheusInstantData `json:"data"`
}

// PrometheusInstantData holds either a vector of series or a single scalar,
// depending on ResultType.
type PrometheusInstantData struct {
	ResultType string          `json:"resultType"`
	Result     json.RawMessage `json:"result"`
}

// PrometheusVectorSample is a single series of a vector result.
type PrometheusVectorSample struct {
	Metric map[string]string `json:"metric"`
	// Value is [ <unix_time_float>, "<value_string>" ]
	Value []any `json:"value"`
}

// sampleInstant evaluates queries in key order against a Prometheus
// compatible API.
func sampleInstant(ctx context.Context, name, serverURL string, queries map[string]string, cli *http.Client) (Sample, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = "/api/v1/query"

	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	keys := sortedKeys(queries)
	at := time.Now().UTC()
	sample := Sample{Time: at, Values: make(Row, len(keys))}
	for _, key := range keys {
		v, ok, err := instantQuery(ctx, cli, *u, queries[key], at)
		if err != nil {
			return Sample{}, fmt.Errorf("%s: query %q: %w", name, key, err)
		}
		if ok {
			sample.Values[key] = v
		} else {
			sample.Values[key] = nil
		}
	}
	return sample, nil
}

func instantQuery(ctx context.Context, cli *http.Client, u url.URL, expr string, at time.Time) (float64, bool, error) {
	q := u.Query()
	q.Set("query", expr)
	q.Set("time", strconv.FormatFloat(float64(at.UnixMilli())/1000, 'f', 3, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("status %d", resp.StatusCode)
	}

	var pr PrometheusInstantResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, false, fmt.Errorf("decode response: %w", err)
	}
	if pr.Status != "success" {
		return 0, false, fmt.Errorf("status %s: %s", pr.Status, pr.Error)
	}

	return SumInstantResult(pr.Data)
}

// SumInstantResult sums the series of a vector result, or returns the value
// of a scalar result. ok is false for an empty vector.
func SumInstantResult(data PrometheusInstantData) (sum float64, ok bool, err error) {
	switch data.ResultType {
	case "scalar":
		var pair []any
		if err := json.Unmarshal(data.Result, &pair); err != nil {
			return 0, false, fmt.Errorf("decode scalar: %w", err)
		}
		v, err := pairValue(pair)
		return v, err == nil, err

	case "vector":
		var series []PrometheusVectorSample
		if err := json.Unmarshal(data.Result, &series); err != nil {
			return 0, false, fmt.Errorf("decode vector: %w", err)
		}
		for _, s := range series {
			v, err := pairValue(s.Value)
			if err != nil {
				return 0, false, err
			}
			sum += v
		}
		return sum, len(series) > 0, nil

	default:
		return 0, false, fmt.Errorf("unsupported result type %q", data.ResultType)
	}
}

func pairValue(pair []any) (float64, error) {
	if len(pair) != 2 {
		return 0, fmt.Errorf("invalid value pair length: %d", len(pair))
	}
	switch v := pair[1].(type) {
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("parse value: %w", err)
		}
		return f, nil
	case float64:
		return v, nil
	case json.Number:
		return v.Float64()
	default:
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
}
