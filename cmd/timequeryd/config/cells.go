package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/HatiCode/timequery/pkg/options"
	"github.com/HatiCode/timequery/pkg/storage"
)

// Cell kinds.
const (
	KindQuery    = "query"
	KindInterval = "interval"
)

// CellConfig declares one cell and the adapter that feeds it.
//
// Example:
//
//	cells:
//	  - name: rps
//	    kind: query
//	    adapter:
//	      kind: prometheus
//	      config:
//	        url: http://prometheus:9090
//	        queries: {rps: 'sum(rate(http_requests_total[1m]))'}
//	    store: [~, ~, 1000]          # period, timestamp, limit
//	    queries:
//	      - [{select: rps, aggregate: max}, 60, "A1:B20"]
//	  - name: p99
//	    kind: interval
//	    key: latency
//	    adapter: {kind: static, config: {values: {latency: 12}}}
//	    terms: [10, avg]            # interval seconds, method
type CellConfig struct {
	Name    string        `yaml:"name"`
	Kind    string        `yaml:"kind"`
	Adapter AdapterConfig `yaml:"adapter"`

	Store   []any   `yaml:"store"`
	Queries [][]any `yaml:"queries"`

	Key   string `yaml:"key"`
	Terms []any  `yaml:"terms"`
}

// AdapterConfig selects and configures a source adapter.
type AdapterConfig struct {
	Kind   string         `yaml:"kind"`
	Config map[string]any `yaml:"config"`
}

type cellsFile struct {
	Cells []CellConfig `yaml:"cells"`
}

// LoadCells reads and validates the cells file at path.
func LoadCells(path string) ([]CellConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cells file: %w", err)
	}
	return ParseCells(data)
}

// ParseCells decodes and validates a cells document.
func ParseCells(data []byte) ([]CellConfig, error) {
	var f cellsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cells file: %w", err)
	}
	if len(f.Cells) == 0 {
		return nil, fmt.Errorf("cells file declares no cells")
	}

	seen := make(map[string]bool, len(f.Cells))
	for i := range f.Cells {
		c := &f.Cells[i]
		if err := c.validate(i); err != nil {
			return nil, err
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("cell %q: declared twice", c.Name)
		}
		seen[c.Name] = true
	}
	return f.Cells, nil
}

func (c *CellConfig) validate(index int) error {
	if err := storage.ValidateCellName(c.Name); err != nil {
		return fmt.Errorf("cell[%d]: %w", index, err)
	}
	if c.Kind == "" {
		c.Kind = KindQuery
	}
	if c.Adapter.Kind == "" {
		return fmt.Errorf("cell %q: adapter kind cannot be empty", c.Name)
	}

	switch c.Kind {
	case KindQuery:
		if len(c.Queries) == 0 {
			return fmt.Errorf("cell %q: at least one query is required", c.Name)
		}
		for i, terms := range c.Queries {
			if _, err := options.ReadQueryOptions(terms...); err != nil {
				return fmt.Errorf("cell %q: query[%d]: %w", c.Name, i, err)
			}
		}
	case KindInterval:
		if c.Key == "" {
			return fmt.Errorf("cell %q: interval cells need the sampled key", c.Name)
		}
		if _, err := options.ReadIntervalOptions(c.Terms...); err != nil {
			return fmt.Errorf("cell %q: %w", c.Name, err)
		}
	default:
		return fmt.Errorf("cell %q: invalid kind %q (must be query or interval)", c.Name, c.Kind)
	}
	return nil
}
