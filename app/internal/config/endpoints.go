package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Endpoint describes one monitored phone/device from the inventory
// file. Coordinates feed the map view.
type Endpoint struct {
	ID        string  `yaml:"id" json:"id"`
	Label     string  `yaml:"label" json:"label"`
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
	Region    string  `yaml:"region,omitempty" json:"region,omitempty"`
}

type inventoryFile struct {
	Endpoints []Endpoint `yaml:"endpoints"`
}

// LoadEndpoints reads the endpoint inventory from a YAML file. If the
// file does not exist, the ENDPOINT_IDS environment variable (comma
// separated ids) is used as a minimal fallback so a bare deployment
// can still ingest.
func LoadEndpoints(path string) ([]Endpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return endpointsFromEnv(), nil
	}
	if err != nil {
		return nil, err
	}

	var f inventoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(f.Endpoints))
	for _, ep := range f.Endpoints {
		if ep.ID == "" {
			return nil, fmt.Errorf("parsing %s: endpoint with empty id", path)
		}
		if _, dup := seen[ep.ID]; dup {
			return nil, fmt.Errorf("parsing %s: duplicate endpoint id %q", path, ep.ID)
		}
		seen[ep.ID] = struct{}{}
	}
	return f.Endpoints, nil
}

func endpointsFromEnv() []Endpoint {
	raw := getenv("ENDPOINT_IDS", "")
	if raw == "" {
		return nil
	}
	var out []Endpoint
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out = append(out, Endpoint{ID: id, Label: id})
	}
	return out
}

// EndpointIDs extracts just the ids, in inventory order.
func EndpointIDs(endpoints []Endpoint) []string {
	ids := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ids = append(ids, ep.ID)
	}
	return ids
}
