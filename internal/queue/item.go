package queue

import (
	"path/filepath"

	"github.com/google/uuid"

	"romdl/internal/download"
	"romdl/internal/extract"
	"romdl/utils"
)

// Item is one entry of the download queue. It lives in exactly one of
// {pending, active, terminal} at any time and owns at most one live download
// task and, after that, at most one live extraction task.
type Item struct {
	ID           uuid.UUID
	Name         string
	URL          string
	DestDir      string
	ExpectedHash string
	System       string
	Category     string
	Metadata     map[string]any

	// ExtractAfter chains an extraction task onto a completed download;
	// DeleteArchive removes the archive after a successful extraction.
	ExtractAfter  bool
	DeleteArchive bool

	// Guarded by the manager's mutex.
	task        *download.Task
	extractTask *extract.Task
}

func NewItem(name, url, destDir string) *Item {
	return &Item{
		ID:      uuid.New(),
		Name:    name,
		URL:     url,
		DestDir: destDir,
	}
}

// FinalPath is destination/sanitize(name); the .part suffix marks the
// in-flight partial file.
func (it *Item) FinalPath() string {
	return filepath.Join(it.DestDir, utils.SafeFilename(it.Name))
}

func (it *Item) PartPath() string {
	return it.FinalPath() + ".part"
}
