package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
	"github.com/kirillkom/parish-ocr-validation/internal/core/ports"
)

// ValidationObserver receives validation activity for metrics.
type ValidationObserver interface {
	ObserveSubmission(action domain.ValidationAction, status string)
	ObserveDuplicate(outcome string)
}

type ValidationDeps struct {
	Tuples    ports.TupleSource
	Validator ports.TupleValidator
	Resolver  *DuplicatePersonResolver
	Notifier  ports.ValidationNotifier
	FieldMap  domain.FieldMap
	Logger    *slog.Logger
	Observer  ValidationObserver
	Now       func() time.Time
}

func (d ValidationDeps) normalize() ValidationDeps {
	if d.FieldMap == nil {
		d.FieldMap = domain.DefaultFieldMap()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Observer == nil {
		d.Observer = nopValidationObserver{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// ValidationSession walks a reviewer through the pending tuples of one
// document. The server decides which tuple comes next; the session never
// advances on its own.
//
// Network calls run without holding mu; busy keeps them strictly sequential.
type ValidationSession struct {
	deps       ValidationDeps
	documentID string
	reviewerID int64
	sacrament  domain.SacramentType

	mu            sync.Mutex
	state         domain.SessionState
	busy          bool
	tuples        []domain.OcrTuple
	cursor        int
	corrections   *FieldCorrectionSet
	counters      domain.SessionCounters
	institutionID *int64
	observations  string
	editMode      bool
	pending       *domain.ValidationDecision
	candidate     *domain.CandidatePerson
	lastErr       string
}

func NewValidationSession(deps ValidationDeps, documentID string, reviewerID int64, sacrament domain.SacramentType) *ValidationSession {
	if !sacrament.Valid() {
		sacrament = domain.SacramentBaptism
	}
	corrections := NewFieldCorrectionSet()
	deps = deps.normalize()
	corrections.now = deps.Now
	return &ValidationSession{
		deps:        deps,
		documentID:  documentID,
		reviewerID:  reviewerID,
		sacrament:   sacrament,
		state:       domain.SessionLoading,
		corrections: corrections,
	}
}

func (s *ValidationSession) DocumentID() string {
	return s.documentID
}

// Load fetches the pending tuples and positions the session on the first one.
func (s *ValidationSession) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return domain.WrapError(domain.ErrBusy, "load tuples", errors.New("a request is already in flight"))
	}
	previous := s.state
	s.busy = true
	s.state = domain.SessionLoading
	s.mu.Unlock()

	tuples, err := s.fetchTuples(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if err != nil {
		if previous != domain.SessionLoading {
			s.state = previous
		}
		s.lastErr = err.Error()
		return err
	}

	s.tuples = tuples
	s.cursor = 0
	s.corrections.Reset()
	s.pending = nil
	s.candidate = nil
	s.resetTransientLocked()

	total := tuples[0].TotalTuplesInDocument
	if total < len(tuples) {
		total = len(tuples)
	}
	s.counters = domain.SessionCounters{
		Total:     total,
		Validated: total - len(tuples),
		Pending:   len(tuples),
	}
	s.state = domain.SessionIdle
	s.deps.Logger.Info("validation_session_loaded",
		"document_id", s.documentID,
		"pending_tuples", len(tuples),
		"total_tuples", total,
	)
	return nil
}

func (s *ValidationSession) fetchTuples(ctx context.Context) ([]domain.OcrTuple, error) {
	raw, err := s.deps.Tuples.PendingTuples(ctx, s.documentID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("fetch pending tuples: %w", err)
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrNotFound, "fetch pending tuples", fmt.Errorf("no pending tuples for document %s", s.documentID))
	}
	return s.prepareTuples(raw), nil
}

// prepareTuples resolves semantic names and assigns session-unique field ids.
func (s *ValidationSession) prepareTuples(raw []domain.OcrTuple) []domain.OcrTuple {
	out := make([]domain.OcrTuple, 0, len(raw))
	for _, t := range raw {
		fields := make([]domain.OcrField, 0, len(t.Fields))
		for pos, f := range t.Fields {
			f.SemanticName = s.deps.FieldMap.Resolve(f.RawFieldKey)
			f.LocalFieldID = domain.LocalFieldID(t.TupleID, f.RawFieldKey, pos)
			fields = append(fields, f)
		}
		t.Fields = fields
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TupleNumber < out[j].TupleNumber
	})
	return out
}

// Navigate moves the cursor by delta, clamped to the loaded tuples.
// Corrections on other tuples are kept.
func (s *ValidationSession) Navigate(delta int) (domain.SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireIdleLocked("navigate"); err != nil {
		return domain.SessionView{}, err
	}

	next := s.cursor + delta
	if next < 0 {
		next = 0
	}
	if next > len(s.tuples)-1 {
		next = len(s.tuples) - 1
	}
	if next != s.cursor {
		s.cursor = next
		s.resetTransientLocked()
	}
	return s.viewLocked(), nil
}

func (s *ValidationSession) RecordCorrection(localFieldID, value, comment string) (domain.Correction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireIdleLocked("record correction"); err != nil {
		return domain.Correction{}, err
	}

	field, ok := s.fieldLocked(localFieldID)
	if !ok {
		return domain.Correction{}, domain.WrapError(domain.ErrValidation, "record correction", fmt.Errorf("unknown field %q", localFieldID))
	}
	if domain.Excluded(field.SemanticName) {
		return domain.Correction{}, domain.WrapError(domain.ErrValidation, "record correction", fmt.Errorf("field %q is not editable", field.SemanticName))
	}

	c, kept := s.corrections.Record(field, value, comment)
	if !kept {
		return domain.Correction{LocalFieldID: localFieldID, OriginalValue: field.ExtractedValue, CorrectedValue: field.ExtractedValue}, nil
	}
	return c, nil
}

func (s *ValidationSession) SelectInstitution(institutionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireIdleLocked("select institution"); err != nil {
		return err
	}
	if institutionID <= 0 {
		return domain.WrapError(domain.ErrValidation, "select institution", errors.New("institution id must be positive"))
	}
	id := institutionID
	s.institutionID = &id
	return nil
}

func (s *ValidationSession) SetObservations(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireIdleLocked("set observations"); err != nil {
		return err
	}
	s.observations = text
	return nil
}

func (s *ValidationSession) SetEditMode(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireIdleLocked("set edit mode"); err != nil {
		return err
	}
	s.editMode = enabled
	return nil
}

// Submit sends the reviewer decision for the current tuple. Approve and
// correct pause in awaiting_duplicate_confirmation when a matching person
// already exists; reject goes straight to the server.
func (s *ValidationSession) Submit(ctx context.Context, action domain.ValidationAction) (domain.SubmitOutcome, error) {
	if !action.Valid() {
		return domain.SubmitOutcome{}, domain.WrapError(domain.ErrValidation, "submit", fmt.Errorf("unknown action %q", action))
	}

	s.mu.Lock()
	if err := s.requireIdleLocked("submit"); err != nil {
		s.mu.Unlock()
		return domain.SubmitOutcome{}, err
	}
	tuple := s.tuples[s.cursor]

	if action == domain.ActionReject {
		decision := s.baseDecisionLocked(tuple, action)
		decision.ValidatedData = map[string]string{}
		s.beginSubmitLocked()
		s.mu.Unlock()
		return s.send(ctx, decision)
	}

	if s.institutionID == nil {
		s.lastErr = "institution is required"
		s.mu.Unlock()
		return domain.SubmitOutcome{}, domain.WrapError(domain.ErrValidation, "submit", errors.New("institution is required"))
	}
	decision, query := s.buildDecisionLocked(tuple, action)
	s.beginSubmitLocked()
	s.mu.Unlock()

	if candidate := s.deps.Resolver.FindCandidate(ctx, query); candidate != nil {
		s.mu.Lock()
		s.busy = false
		s.state = domain.SessionAwaitingConfirmation
		s.pending = &decision
		s.candidate = candidate
		s.mu.Unlock()

		s.deps.Observer.ObserveDuplicate("found")
		s.deps.Logger.Info("duplicate_candidate_found",
			"document_id", s.documentID,
			"tuple_number", decision.TupleNumber,
			"person_id", candidate.ID,
		)
		return domain.SubmitOutcome{State: domain.SessionAwaitingConfirmation, Candidate: candidate}, nil
	}

	return s.send(ctx, decision)
}

// ConfirmDuplicate submits the paused decision reusing the candidate person.
func (s *ValidationSession) ConfirmDuplicate(ctx context.Context) (domain.SubmitOutcome, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return domain.SubmitOutcome{}, domain.WrapError(domain.ErrBusy, "confirm duplicate", errors.New("a submission is already in flight"))
	}
	if s.state != domain.SessionAwaitingConfirmation || s.pending == nil || s.candidate == nil {
		s.mu.Unlock()
		return domain.SubmitOutcome{}, domain.WrapError(domain.ErrValidation, "confirm duplicate", errors.New("no duplicate confirmation pending"))
	}
	decision := *s.pending
	personID := s.candidate.ID
	decision.ExistingPersonID = &personID
	s.beginSubmitLocked()
	s.mu.Unlock()

	s.deps.Observer.ObserveDuplicate("confirmed")
	return s.send(ctx, decision)
}

// CancelDuplicate drops the paused decision and returns to editing. Nothing
// is sent to the server.
func (s *ValidationSession) CancelDuplicate() (domain.SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy || s.state != domain.SessionAwaitingConfirmation {
		return domain.SessionView{}, domain.WrapError(domain.ErrValidation, "cancel duplicate", errors.New("no duplicate confirmation pending"))
	}
	s.pending = nil
	s.candidate = nil
	s.state = domain.SessionIdle
	s.editMode = true
	s.deps.Observer.ObserveDuplicate("cancelled")
	return s.viewLocked(), nil
}

func (s *ValidationSession) send(ctx context.Context, decision domain.ValidationDecision) (domain.SubmitOutcome, error) {
	result, err := s.deps.Validator.ValidateTuple(ctx, decision)
	if err != nil {
		return domain.SubmitOutcome{}, s.failSubmission(decision, err)
	}

	reload := s.applyResult(decision, result)
	if reload {
		s.reloadAt(ctx, *result.NextTupleNumber)
	}

	s.deps.Observer.ObserveSubmission(decision.Action, "success")
	s.deps.Logger.Info("tuple_validated",
		"document_id", decision.DocumentID,
		"tuple_number", decision.TupleNumber,
		"action", string(decision.Action),
		"validated", result.ValidatedTuples,
		"pending", result.PendingTuples,
		"completed", result.Completed,
	)
	s.notify(ctx, decision, result)

	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SubmitOutcome{State: s.state, Result: &result}, nil
}

// failSubmission puts the session back where it was before the call, with
// corrections untouched.
func (s *ValidationSession) failSubmission(decision domain.ValidationDecision, err error) error {
	detail := err.Error()
	var subErr *domain.SubmissionError
	if errors.As(err, &subErr) && subErr.Detail != "" {
		detail = subErr.Detail
	}

	s.mu.Lock()
	s.busy = false
	if s.pending != nil {
		s.state = domain.SessionAwaitingConfirmation
	} else {
		s.state = domain.SessionIdle
	}
	s.lastErr = detail
	s.mu.Unlock()

	s.deps.Observer.ObserveSubmission(decision.Action, "error")
	s.deps.Logger.Warn("tuple_validation_failed",
		"document_id", decision.DocumentID,
		"tuple_number", decision.TupleNumber,
		"action", string(decision.Action),
		"error", err,
	)
	if subErr != nil {
		return domain.WrapError(domain.ErrSubmission, "submit tuple", err)
	}
	return domain.WrapError(domain.ErrSubmission, "submit tuple", &domain.SubmissionError{Detail: detail, Err: err})
}

// applyResult takes counters and sequencing from the server response. It
// reports whether the next tuple is missing locally and a reload is needed;
// in that case the session stays busy until reloadAt finishes.
func (s *ValidationSession) applyResult(decision domain.ValidationDecision, result domain.ValidationResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters = domain.SessionCounters{
		Total:     result.TotalTuples,
		Validated: result.ValidatedTuples,
		Pending:   result.PendingTuples,
	}
	s.pending = nil
	s.candidate = nil
	s.corrections.ClearTuple(decision.TupleID)

	switch {
	case result.Completed:
		s.busy = false
		s.state = domain.SessionCompleted
		s.resetTransientLocked()
		return false
	case result.NextTupleNumber != nil:
		idx := s.indexOfTupleLocked(*result.NextTupleNumber)
		if idx < 0 {
			return true
		}
		s.moveToLocked(idx)
	default:
		s.resetTransientLocked()
	}
	s.busy = false
	s.state = domain.SessionIdle
	return false
}

func (s *ValidationSession) reloadAt(ctx context.Context, tupleNumber int) {
	tuples, err := s.fetchTuples(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.state = domain.SessionIdle
	if err != nil {
		s.deps.Logger.Warn("validation_session_reload_failed",
			"document_id", s.documentID,
			"next_tuple", tupleNumber,
			"error", err,
		)
		s.resetTransientLocked()
		return
	}

	s.tuples = tuples
	s.corrections.Reset()
	idx := s.indexOfTupleLocked(tupleNumber)
	if idx < 0 {
		idx = 0
	}
	s.moveToLocked(idx)
}

func (s *ValidationSession) notify(ctx context.Context, decision domain.ValidationDecision, result domain.ValidationResult) {
	if s.deps.Notifier == nil {
		return
	}
	event := domain.TupleValidatedEvent{
		EventID:     uuid.NewString(),
		Decision:    decision,
		Result:      result,
		ValidatedAt: s.deps.Now().UTC(),
	}
	if err := s.deps.Notifier.TupleValidated(ctx, event); err != nil {
		s.deps.Logger.Warn("tuple_validated_notify_failed", "document_id", decision.DocumentID, "error", err)
	}
	if !result.Completed {
		return
	}
	if err := s.deps.Notifier.DocumentValidated(ctx, decision.DocumentID); err != nil {
		s.deps.Logger.Warn("document_validated_notify_failed", "document_id", decision.DocumentID, "error", err)
	}
}

func (s *ValidationSession) Snapshot() domain.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *ValidationSession) requireIdleLocked(operation string) error {
	if s.busy {
		return domain.WrapError(domain.ErrBusy, operation, errors.New("a submission is in flight"))
	}
	switch s.state {
	case domain.SessionIdle:
		return nil
	case domain.SessionAwaitingConfirmation:
		return domain.WrapError(domain.ErrBusy, operation, errors.New("duplicate confirmation pending"))
	case domain.SessionCompleted:
		return domain.WrapError(domain.ErrValidation, operation, errors.New("document already validated"))
	default:
		return domain.WrapError(domain.ErrBusy, operation, fmt.Errorf("session is %s", s.state))
	}
}

func (s *ValidationSession) beginSubmitLocked() {
	s.busy = true
	s.state = domain.SessionSubmitting
	s.lastErr = ""
}

func (s *ValidationSession) resetTransientLocked() {
	s.observations = ""
	s.editMode = false
	s.lastErr = ""
}

func (s *ValidationSession) moveToLocked(idx int) {
	s.cursor = idx
	s.corrections.ClearTuple(s.tuples[idx].TupleID)
	s.resetTransientLocked()
}

func (s *ValidationSession) indexOfTupleLocked(tupleNumber int) int {
	for i, t := range s.tuples {
		if t.TupleNumber == tupleNumber {
			return i
		}
	}
	return -1
}

func (s *ValidationSession) fieldLocked(localFieldID string) (domain.OcrField, bool) {
	for _, t := range s.tuples {
		for _, f := range t.Fields {
			if f.LocalFieldID == localFieldID {
				return f, true
			}
		}
	}
	return domain.OcrField{}, false
}

func (s *ValidationSession) baseDecisionLocked(tuple domain.OcrTuple, action domain.ValidationAction) domain.ValidationDecision {
	return domain.ValidationDecision{
		DocumentID:   s.documentID,
		TupleNumber:  tuple.TupleNumber,
		TupleID:      tuple.TupleID,
		ReviewerID:   s.reviewerID,
		Observations: strings.TrimSpace(s.observations),
		Action:       action,
	}
}

// buildDecisionLocked assembles validated data for approve/correct and the
// matching duplicate query.
func (s *ValidationSession) buildDecisionLocked(tuple domain.OcrTuple, action domain.ValidationAction) (domain.ValidationDecision, domain.PersonQuery) {
	data := make(map[string]string, len(tuple.Fields)+5)
	for _, f := range tuple.Fields {
		if domain.Excluded(f.SemanticName) {
			continue
		}
		value := s.corrections.Value(f)
		if existing, ok := data[f.SemanticName]; ok && existing != "" && value == "" {
			continue
		}
		data[f.SemanticName] = value
	}

	birthDate := domain.ComposeDate(data[domain.FieldBirthDay], data[domain.FieldBirthMonth], data[domain.FieldBirthYear])
	if birthDate != "" {
		data[domain.FieldBirthDate] = birthDate
	}
	dayField, monthField, yearField := domain.SacramentDateFields(s.sacrament)
	sacramentDate := domain.ComposeDate(data[dayField], data[monthField], data[yearField])
	if sacramentDate != "" {
		data[domain.FieldSacramentDate] = sacramentDate
	}

	name := domain.ParsePersonName(data[domain.FieldPersonName])
	if _, ok := data[domain.FieldPersonName]; ok {
		data[domain.FieldGivenNames] = name.GivenNames
		data[domain.FieldPaternalSurname] = name.PaternalSurname
		data[domain.FieldMaternalSurname] = name.MaternalSurname
	}

	decision := s.baseDecisionLocked(tuple, action)
	institutionID := *s.institutionID
	decision.InstitutionID = &institutionID
	decision.ValidatedData = data

	return decision, domain.PersonQuery{
		Name:          name,
		BirthDate:     birthDate,
		SacramentDate: sacramentDate,
		Sacrament:     s.sacrament,
	}
}

func (s *ValidationSession) viewLocked() domain.SessionView {
	view := domain.SessionView{
		DocumentID:      s.documentID,
		ReviewerID:      s.reviewerID,
		Sacrament:       s.sacrament,
		State:           s.state,
		Cursor:          s.cursor,
		TupleCount:      len(s.tuples),
		Counters:        s.counters,
		Observations:    s.observations,
		EditMode:        s.editMode,
		CorrectionCount: s.corrections.Len(),
		LastError:       s.lastErr,
		Fields:          []domain.FieldView{},
	}
	if s.institutionID != nil {
		id := *s.institutionID
		view.InstitutionID = &id
	}
	if s.candidate != nil {
		c := *s.candidate
		view.PendingCandidate = &c
	}
	if len(s.tuples) == 0 {
		return view
	}

	tuple := s.tuples[s.cursor]
	view.TupleID = tuple.TupleID
	view.TupleNumber = tuple.TupleNumber
	for _, f := range tuple.Fields {
		fv := domain.FieldView{
			OcrField: f,
			Value:    s.corrections.Value(f),
			Editable: !domain.Excluded(f.SemanticName),
		}
		if c, ok := s.corrections.Get(f.LocalFieldID); ok {
			fv.Corrected = true
			fv.Comment = c.Comment
		}
		view.Fields = append(view.Fields, fv)
	}
	return view
}

type nopValidationObserver struct{}

func (nopValidationObserver) ObserveSubmission(domain.ValidationAction, string) {}
func (nopValidationObserver) ObserveDuplicate(string) {}
