package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPAdapter calls any REST API endpoint once per sample and picks values
// out of the JSON response with gjson paths.
//
// It supports:
//   - Configurable HTTP method (GET, POST, etc.)
//   - Template-based request body and headers with variables: {{.Now}}, {{.NowMilli}}, {{.NowRFC3339}}
//   - Custom headers including authentication (Bearer tokens, API keys, etc.)
//   - One gjson path per sampled key; values keep their JSON type
//   - An optional timestamp path (RFC3339, Unix seconds, Unix milliseconds)
//
// Example configuration for a status endpoint:
//
//	adapter := &HTTPAdapter{
//	    URL: "https://api.example.com/status",
//	    Headers: map[string]string{
//	        "Authorization": "Bearer {{.Token}}",
//	    },
//	    Paths: map[string]string{
//	        "queue": "stats.queue.depth",
//	        "state": "status",
//	    },
//	    TimestampPath: "stats.updated",
//	}
type HTTPAdapter struct {
	// URL is the endpoint to call (required)
	URL string

	// Method is the HTTP method (GET, POST, etc.). Defaults to GET if empty.
	Method string

	// Headers are custom HTTP headers to include in the request.
	// Values can use template variables like {{.Token}}.
	Headers map[string]string

	// Body is the request body template (for POST/PUT). Supports variables:
	//   {{.Now}}        - sample time as Unix seconds
	//   {{.NowMilli}}   - sample time as Unix milliseconds
	//   {{.NowRFC3339}} - sample time as RFC3339 string
	Body string

	// Paths maps each sampled key to the gjson path of its value.
	// A path missing from the response yields a nil value.
	Paths map[string]string

	// TimestampPath is the optional gjson path of the sample time. When empty
	// the request time is used.
	TimestampPath string

	// TimestampFormat specifies how to parse timestamps:
	//   "rfc3339"    - RFC3339 strings (default)
	//   "unix"       - Unix seconds (float or int)
	//   "unix_milli" - Unix milliseconds (float or int)
	TimestampFormat string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	// TemplateVars are custom variables available in Body and Headers templates.
	// Use this to pass tokens, API keys, etc.
	TemplateVars map[string]string
}

func (h *HTTPAdapter) Name() string { return "http" }

// Sample implements Adapter. It calls the configured HTTP endpoint and
// extracts one value per configured path.
func (h *HTTPAdapter) Sample(ctx context.Context) (Sample, error) {
	if err := h.ValidateConfig(); err != nil {
		return Sample{}, fmt.Errorf("http adapter: %w", err)
	}

	now := time.Now().UTC()
	templateData := map[string]any{
		"Now":        now.Unix(),
		"NowMilli":   now.UnixMilli(),
		"NowRFC3339": now.Format(time.RFC3339),
	}
	for k, v := range h.TemplateVars {
		templateData[k] = v
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if h.Body != "" {
		renderedBody, err := renderTemplate(h.Body, templateData)
		if err != nil {
			return Sample{}, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = bytes.NewBufferString(renderedBody)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, bodyReader)
	if err != nil {
		return Sample{}, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, templateData)
		if err != nil {
			return Sample{}, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Sample{}, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Sample{}, fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(respBody) {
		return Sample{}, errors.New("response is not valid JSON")
	}

	sample := Sample{Time: now, Values: make(Row, len(h.Paths))}
	for _, key := range sortedKeys(h.Paths) {
		res := gjson.GetBytes(respBody, h.Paths[key])
		if !res.Exists() {
			sample.Values[key] = nil
			continue
		}
		sample.Values[key] = res.Value()
	}

	if h.TimestampPath != "" {
		res := gjson.GetBytes(respBody, h.TimestampPath)
		if !res.Exists() {
			return Sample{}, fmt.Errorf("timestamp path %q not found in response", h.TimestampPath)
		}
		ts, err := h.parseTimestamp(res)
		if err != nil {
			return Sample{}, fmt.Errorf("parse timestamp: %w", err)
		}
		sample.Time = ts
	}

	return sample, nil
}

// parseTimestamp parses a timestamp according to the configured format
func (h *HTTPAdapter) parseTimestamp(value gjson.Result) (time.Time, error) {
	format := h.TimestampFormat
	if format == "" {
		format = "rfc3339"
	}

	switch format {
	case "rfc3339":
		return time.Parse(time.RFC3339, value.String())

	case "unix":
		sec := value.Float()
		return time.UnixMilli(int64(sec * 1000)).UTC(), nil

	case "unix_milli":
		ms := value.Float()
		return time.UnixMilli(int64(ms)).UTC(), nil

	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", format)
	}
}

// renderTemplate renders a text template with the given data
func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// ValidateConfig checks if the adapter configuration is valid
func (h *HTTPAdapter) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if len(h.Paths) == 0 {
		return errors.New("paths are required")
	}
	for key, path := range h.Paths {
		if key == "" || path == "" {
			return fmt.Errorf("invalid path mapping %q: %q", key, path)
		}
	}

	validFormats := map[string]bool{
		"":           true,
		"rfc3339":    true,
		"unix":       true,
		"unix_milli": true,
	}
	if !validFormats[h.TimestampFormat] {
		return fmt.Errorf("invalid timestampFormat: %s (must be rfc3339, unix, or unix_milli)", h.TimestampFormat)
	}

	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
