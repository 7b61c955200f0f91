package extract

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"romdl/utils"
)

// State is the extraction task lifecycle.
type State string

const (
	StatePending    State = "Pending"
	StatePreparing  State = "Preparing"
	StateExtracting State = "Extracting"
	StateCompleted  State = "Completed"
	StateFailed     State = "Failed"
)

// Task unpacks one archive into a destination directory, reporting progress
// through the same callback contract downloads use. Errors are surfaced
// immediately; extraction is never retried.
type Task struct {
	archivePath string
	destDir     string
	progress    ProgressFunc
	log         zerolog.Logger

	state     State
	lastDone  int64
	lastTotal int64
}

func NewTask(archivePath, destDir string, progress ProgressFunc) *Task {
	return &Task{
		archivePath: archivePath,
		destDir:     destDir,
		progress:    progress,
		log:         utils.GetLogger("extract"),
		state:       StatePending,
		lastTotal:   1,
	}
}

func (t *Task) State() State { return t.state }

func (t *Task) Run() error {
	t.state = StatePreparing
	t.emit(0, 1, "Preparing extraction")

	if _, err := os.Stat(t.archivePath); err != nil {
		return t.fail(fmt.Errorf("archive does not exist: %s", t.archivePath))
	}
	if err := os.MkdirAll(t.destDir, 0755); err != nil {
		return t.fail(err)
	}

	format, err := Detect(t.archivePath)
	if err != nil {
		return t.fail(err)
	}
	t.log.Debug().Str("archive", filepath.Base(t.archivePath)).Str("format", format.Name()).Msg("Starting extraction")

	t.state = StateExtracting
	if err := format.Extract(t.archivePath, t.destDir, t.forward); err != nil {
		return t.fail(err)
	}

	t.state = StateCompleted
	t.emit(t.lastTotal, t.lastTotal, "Extraction complete")
	return nil
}

func (t *Task) forward(done, total int64, status string) {
	t.lastDone, t.lastTotal = done, total
	t.emit(done, total, status)
}

func (t *Task) fail(err error) error {
	t.state = StateFailed
	t.log.Error().Err(err).Str("archive", filepath.Base(t.archivePath)).Msg("Extraction failed")
	t.emit(t.lastDone, t.lastTotal, fmt.Sprintf("Extraction failed: %v", err))
	return err
}

func (t *Task) emit(done, total int64, status string) {
	if t.progress != nil {
		t.progress(done, total, status)
	}
}
