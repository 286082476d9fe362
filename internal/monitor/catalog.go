package monitor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gaigenticai/Regulens-sub010/internal/db"
)

type catalogFile struct {
	Sources []catalogEntry `yaml:"sources"`
}

type catalogEntry struct {
	ID                   string `yaml:"id"`
	Name                 string `yaml:"name"`
	BaseURL              string `yaml:"base_url"`
	SourceType           string `yaml:"source_type"`
	CheckIntervalMinutes int    `yaml:"check_interval_minutes"`
	Active               *bool  `yaml:"active"`
}

// LoadCatalog reads a YAML source catalog and returns the sources it
// declares. Entries omit `active` to mean active, and omit the interval
// to mean hourly.
func LoadCatalog(path string) ([]*db.RegulatorySource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse source catalog: %w", err)
	}

	sources := make([]*db.RegulatorySource, 0, len(file.Sources))
	for i, entry := range file.Sources {
		src := &db.RegulatorySource{
			ID:                   entry.ID,
			Name:                 entry.Name,
			BaseURL:              entry.BaseURL,
			SourceType:           entry.SourceType,
			CheckIntervalMinutes: entry.CheckIntervalMinutes,
			Active:               true,
		}
		if entry.Active != nil {
			src.Active = *entry.Active
		}
		if src.CheckIntervalMinutes <= 0 {
			src.CheckIntervalMinutes = 60
		}
		if err := validateSource(src); err != nil {
			return nil, fmt.Errorf("catalog entry %d (%s): %w", i, entry.ID, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}
