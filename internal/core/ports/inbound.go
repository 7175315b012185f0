package ports

import "github.com/kirillkom/parish-ocr-validation/internal/core/domain"

// ProgressTracker is the inbound contract for OCR job progress.
type ProgressTracker interface {
	BeginTracking(documentID string) error
	EndTracking(documentID string)
	Snapshot() map[string]domain.TrackedDocument
}
