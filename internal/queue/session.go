package queue

import (
	"encoding/json"
	"fmt"
	"os"
)

// sessionEntry is the persisted snapshot of one queue item. The field set
// and order match the downloads_session.json files written by earlier
// releases, so old sessions keep loading.
type sessionEntry struct {
	Name     string         `json:"name"`
	URL      string         `json:"url"`
	Dest     string         `json:"dest"`
	Hash     string         `json:"hash,omitempty"`
	System   string         `json:"system,omitempty"`
	Category string         `json:"category,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SaveSession writes the ordered queue snapshot to path.
func SaveSession(path string, items []*Item) error {
	entries := make([]sessionEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, sessionEntry{
			Name:     it.Name,
			URL:      it.URL,
			Dest:     it.DestDir,
			Hash:     it.ExpectedHash,
			System:   it.System,
			Category: it.Category,
			Metadata: it.Metadata,
		})
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding session: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing session file: %w", err)
	}
	return nil
}

// LoadSession restores a saved queue. Items whose final file already exists
// are reported Completed without re-downloading; items with only a .part
// file are re-enqueued for a resumed transfer; items with neither are
// reported failed. Duplicate names are skipped.
func (m *Manager) LoadSession(path string, extractAfter, deleteArchive bool) ([]*Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading session file: %w", err)
	}
	var entries []sessionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing session file: %w", err)
	}

	seen := make(map[string]struct{})
	var items []*Item
	for _, e := range entries {
		if e.Name == "" || e.URL == "" || e.Dest == "" {
			continue
		}
		if _, dup := seen[e.Name]; dup {
			continue
		}
		seen[e.Name] = struct{}{}

		it := NewItem(e.Name, e.URL, e.Dest)
		it.ExpectedHash = e.Hash
		it.System = e.System
		it.Category = e.Category
		it.Metadata = e.Metadata
		it.ExtractAfter = extractAfter
		it.DeleteArchive = deleteArchive
		items = append(items, it)

		if info, err := os.Stat(it.FinalPath()); err == nil {
			m.emit(it, info.Size(), info.Size(), 0, 0, "Completed")
			continue
		}
		if _, err := os.Stat(it.PartPath()); err == nil {
			m.Enqueue(it)
			continue
		}
		m.emit(it, 0, 0, 0, 0, "Error: file not found")
	}
	m.log.Debug().Int("count", len(items)).Str("path", path).Msg("Session loaded")
	return items, nil
}
