// Package specloader loads the declarative set of desired streams
// from a YAML file (spec.md §6.4), the input to
// manifest.Store.UpsertSpec.
package specloader

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"barsync/internal/manifest"
	"barsync/internal/timeframe"
)

// File is the on-disk shape: a flat list of asset specs.
type File struct {
	Streams []manifest.AssetSpec `yaml:"streams"`
}

// Load reads and parses path into a list of AssetSpecs, validating
// each entry's timeframe and range.
func Load(path string) ([]manifest.AssetSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("specloader: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("specloader: parse %s: %w", path, err)
	}

	for i, s := range f.Streams {
		if err := validate(s); err != nil {
			return nil, fmt.Errorf("specloader: stream %d (%s/%s): %w", i, s.Provider, s.Symbol, err)
		}
	}
	return f.Streams, nil
}

func validate(s manifest.AssetSpec) error {
	if s.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if s.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if s.AssetClass == "" {
		return fmt.Errorf("asset_class is required")
	}
	if s.Range.Start.IsZero() {
		return fmt.Errorf("range.start is required")
	}
	if s.Range.End != nil && !s.Range.End.After(s.Range.Start) {
		return fmt.Errorf("range.end must be after range.start")
	}
	if _, err := timeframe.New(s.Timeframe.Amount, s.Timeframe.Unit); err != nil {
		return fmt.Errorf("timeframe: %w", err)
	}
	return nil
}
