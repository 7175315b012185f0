package usecase

import (
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
)

// FieldCorrectionSet overlays reviewer corrections on OCR values. Only touched
// fields are present; the owning session serializes access.
type FieldCorrectionSet struct {
	items map[string]domain.Correction
	now   func() time.Time
}

func NewFieldCorrectionSet() *FieldCorrectionSet {
	return &FieldCorrectionSet{
		items: make(map[string]domain.Correction),
		now:   time.Now,
	}
}

// Record stores a sanitized correction for field. A value equal to the OCR
// value removes the correction; the returned bool reports whether one is kept.
func (s *FieldCorrectionSet) Record(field domain.OcrField, value, comment string) (domain.Correction, bool) {
	value = domain.SanitizeValue(field.SemanticName, value)
	comment = strings.TrimSpace(comment)

	if value == field.ExtractedValue && comment == "" {
		delete(s.items, field.LocalFieldID)
		return domain.Correction{}, false
	}

	c := domain.Correction{
		LocalFieldID:   field.LocalFieldID,
		OriginalValue:  field.ExtractedValue,
		CorrectedValue: value,
		Comment:        comment,
		RecordedAt:     s.now().UTC(),
	}
	s.items[field.LocalFieldID] = c
	return c, true
}

func (s *FieldCorrectionSet) Get(localFieldID string) (domain.Correction, bool) {
	c, ok := s.items[localFieldID]
	return c, ok
}

// Value returns the correction if present, else the extracted value.
func (s *FieldCorrectionSet) Value(field domain.OcrField) string {
	if c, ok := s.items[field.LocalFieldID]; ok {
		return c.CorrectedValue
	}
	return field.ExtractedValue
}

func (s *FieldCorrectionSet) ClearTuple(tupleID int64) {
	prefix := strconv.FormatInt(tupleID, 10) + ":"
	for id := range s.items {
		if strings.HasPrefix(id, prefix) {
			delete(s.items, id)
		}
	}
}

func (s *FieldCorrectionSet) CountTuple(tupleID int64) int {
	prefix := strconv.FormatInt(tupleID, 10) + ":"
	n := 0
	for id := range s.items {
		if strings.HasPrefix(id, prefix) {
			n++
		}
	}
	return n
}

func (s *FieldCorrectionSet) Len() int {
	return len(s.items)
}

func (s *FieldCorrectionSet) Reset() {
	s.items = make(map[string]domain.Correction)
}
