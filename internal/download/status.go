package download

import "fmt"

// Status is the canonical state token reported through progress callbacks.
// Consumers (the table UI, the terminal renderer) distinguish on these
// values, so they are part of the external contract and must stay stable.
type Status string

const (
	StatusQueued      Status = "Queued"
	StatusConnecting  Status = "Connecting"
	StatusDownloading Status = "Downloading"
	StatusPaused      Status = "Paused"
	StatusVerifying   Status = "Verifying"
	StatusCompleted   Status = "Completed"
	StatusIntegrityOK Status = "Integrity OK"
	StatusIntegrityKO Status = "Integrity KO"
	StatusCancelled   Status = "Cancelled"
)

// ErrorStatus renders a failure as a status token carrying its detail.
func ErrorStatus(detail string) Status {
	return Status(fmt.Sprintf("Error: %s", detail))
}

// Terminal reports whether s is a terminal download state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusIntegrityOK, StatusIntegrityKO, StatusCancelled:
		return true
	}
	return len(s) > 7 && s[:7] == "Error: "
}
