package domain

import "time"

type ProgressState string

const (
	ProgressInitiating  ProgressState = "initiating"
	ProgressDownloading ProgressState = "downloading"
	ProgressSaving      ProgressState = "saving"
	ProgressOCRRunning  ProgressState = "ocr_running"
	ProgressCompleted   ProgressState = "completed"
	ProgressError       ProgressState = "error"
)

// Terminal reports whether no further polling should happen for the state.
func (s ProgressState) Terminal() bool {
	return s == ProgressCompleted || s == ProgressError
}

type TrackedDocument struct {
	DocumentID      string        `json:"document_id"`
	State           ProgressState `json:"state"`
	ProgressPercent int           `json:"progress_percent"`
	Message         string        `json:"message"`
	Stage           string        `json:"stage"`
	LastUpdatedAt   time.Time     `json:"last_updated_at"`
}

// ProgressReport is one status answer from the upstream progress source.
type ProgressReport struct {
	State           ProgressState
	ProgressPercent int
	Message         string
	Stage           string
}

func ClampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
