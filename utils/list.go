package utils

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DownloadEntry is one row of a YAML download list.
type DownloadEntry struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"link"`
	Dest    string `yaml:"dest"`
	Hash    string `yaml:"hash"`
	Extract bool   `yaml:"extract"`
}

func ReadDownloadList(filePath string) ([]DownloadEntry, error) {
	log := GetLogger("config")
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	var entries []DownloadEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	for i, entry := range entries {
		if entry.URL == "" {
			return nil, fmt.Errorf("missing link for entry %d", i+1)
		}
		if entry.Name == "" {
			return nil, fmt.Errorf("missing name for entry %d", i+1)
		}
	}
	log.Debug().Int("count", len(entries)).Msg("Entries loaded from YAML")
	return entries, nil
}
