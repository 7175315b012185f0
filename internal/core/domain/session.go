package domain

type SessionState string

const (
	SessionLoading              SessionState = "loading"
	SessionIdle                 SessionState = "idle"
	SessionSubmitting           SessionState = "submitting"
	SessionAwaitingConfirmation SessionState = "awaiting_duplicate_confirmation"
	SessionCompleted            SessionState = "completed"
)

type SessionCounters struct {
	Total     int `json:"total"`
	Validated int `json:"validated"`
	Pending   int `json:"pending"`
}

// FieldView is a field as presented to the reviewer, with any correction
// already applied.
type FieldView struct {
	OcrField
	Value     string `json:"value"`
	Corrected bool   `json:"corrected"`
	Comment   string `json:"comment,omitempty"`
	Editable  bool   `json:"editable"`
}

type SessionView struct {
	DocumentID       string           `json:"document_id"`
	ReviewerID       int64            `json:"reviewer_id"`
	Sacrament        SacramentType    `json:"sacrament"`
	State            SessionState     `json:"state"`
	Cursor           int              `json:"cursor"`
	TupleCount       int              `json:"tuple_count"`
	TupleID          int64            `json:"tuple_id,omitempty"`
	TupleNumber      int              `json:"tuple_number,omitempty"`
	Fields           []FieldView      `json:"fields"`
	Counters         SessionCounters  `json:"counters"`
	InstitutionID    *int64           `json:"institution_id,omitempty"`
	Observations     string           `json:"observations"`
	EditMode         bool             `json:"edit_mode"`
	CorrectionCount  int              `json:"correction_count"`
	PendingCandidate *CandidatePerson `json:"pending_candidate,omitempty"`
	LastError        string           `json:"last_error,omitempty"`
}

// SubmitOutcome tells the caller what a submit or confirm call led to.
type SubmitOutcome struct {
	State     SessionState      `json:"state"`
	Candidate *CandidatePerson  `json:"candidate,omitempty"`
	Result    *ValidationResult `json:"result,omitempty"`
}
