package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
)

type tupleSourceFake struct {
	tuples []domain.OcrTuple
	err    error
	calls  int
}

func (f *tupleSourceFake) PendingTuples(context.Context, string) ([]domain.OcrTuple, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.OcrTuple, len(f.tuples))
	copy(out, f.tuples)
	return out, nil
}

type validatorFake struct {
	mu        sync.Mutex
	decisions []domain.ValidationDecision
	results   []domain.ValidationResult
	err       error
	block     chan struct{}
	entered   chan struct{}
}

func (f *validatorFake) ValidateTuple(_ context.Context, decision domain.ValidationDecision) (domain.ValidationResult, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, decision)
	if f.err != nil {
		return domain.ValidationResult{}, f.err
	}
	if len(f.results) == 0 {
		return domain.ValidationResult{Status: "ok"}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func (f *validatorFake) sent() []domain.ValidationDecision {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ValidationDecision, len(f.decisions))
	copy(out, f.decisions)
	return out
}

type personFinderFake struct {
	persons []domain.CandidatePerson
	err     error
	queries []domain.PersonQuery
}

func (f *personFinderFake) FindPersons(_ context.Context, query domain.PersonQuery) ([]domain.CandidatePerson, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.persons, nil
}

type notifierFake struct {
	events    []domain.TupleValidatedEvent
	completed []string
}

func (f *notifierFake) TupleValidated(_ context.Context, event domain.TupleValidatedEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *notifierFake) DocumentValidated(_ context.Context, documentID string) error {
	f.completed = append(f.completed, documentID)
	return nil
}

func intPtr(v int) *int { return &v }

func registerTuple(id int64, number int, name, day, month, year string) domain.OcrTuple {
	return domain.OcrTuple{
		TupleID:               id,
		TupleNumber:           number,
		TotalTuplesInDocument: 3,
		Fields: []domain.OcrField{
			{RawFieldKey: "col_1", ExtractedValue: name, Confidence: 0.91},
			{RawFieldKey: "col_2", ExtractedValue: day, Confidence: 0.88},
			{RawFieldKey: "col_3", ExtractedValue: month, Confidence: 0.87},
			{RawFieldKey: "col_4", ExtractedValue: year, Confidence: 0.95},
			{RawFieldKey: "col_5", ExtractedValue: "San José", Confidence: 0.5},
			{RawFieldKey: "col_6", ExtractedValue: "12", Confidence: 0.9},
			{RawFieldKey: "col_7", ExtractedValue: "4", Confidence: 0.9},
			{RawFieldKey: "col_8", ExtractedValue: "1990", Confidence: 0.9},
		},
	}
}

type sessionFixture struct {
	tuples    *tupleSourceFake
	validator *validatorFake
	finder    *personFinderFake
	notifier  *notifierFake
	session   *ValidationSession
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		tuples: &tupleSourceFake{tuples: []domain.OcrTuple{
			registerTuple(101, 1, "Juan Carlos Pérez García", "5", "3", "1990"),
			registerTuple(102, 2, "Ana - Ruiz - Soto", "1", "1", "1989"),
			registerTuple(103, 3, "Luis Mora", "9", "9", "1991"),
		}},
		validator: &validatorFake{},
		finder:    &personFinderFake{},
		notifier:  &notifierFake{},
	}
	f.session = NewValidationSession(ValidationDeps{
		Tuples:    f.tuples,
		Validator: f.validator,
		Resolver:  NewDuplicatePersonResolver(f.finder, discardLogger()),
		Notifier:  f.notifier,
		Logger:    discardLogger(),
	}, "doc-1", 7, domain.SacramentBaptism)
	if err := f.session.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return f
}

func fieldID(view domain.SessionView, semantic string) string {
	for _, f := range view.Fields {
		if f.SemanticName == semantic {
			return f.LocalFieldID
		}
	}
	return ""
}

func TestLoadReturnsNotFoundWithoutPendingTuples(t *testing.T) {
	session := NewValidationSession(ValidationDeps{
		Tuples: &tupleSourceFake{},
		Logger: discardLogger(),
	}, "doc-1", 7, domain.SacramentBaptism)

	err := session.Load(context.Background())
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadSeedsCountersAndCursor(t *testing.T) {
	f := newSessionFixture(t)
	view := f.session.Snapshot()

	if view.State != domain.SessionIdle || view.Cursor != 0 || view.TupleNumber != 1 {
		t.Fatalf("unexpected view after load: %+v", view)
	}
	if view.Counters != (domain.SessionCounters{Total: 3, Validated: 0, Pending: 3}) {
		t.Fatalf("unexpected counters %+v", view.Counters)
	}
}

func TestLocalFieldIDsAreUniqueAcrossTuples(t *testing.T) {
	f := newSessionFixture(t)

	seen := make(map[string]bool)
	f.session.mu.Lock()
	defer f.session.mu.Unlock()
	for _, tuple := range f.session.tuples {
		for _, field := range tuple.Fields {
			if seen[field.LocalFieldID] {
				t.Fatalf("duplicate local field id %s", field.LocalFieldID)
			}
			seen[field.LocalFieldID] = true
		}
	}
	if len(seen) != 24 {
		t.Fatalf("expected 24 fields, got %d", len(seen))
	}
}

func TestNavigateClampsAndKeepsCorrections(t *testing.T) {
	f := newSessionFixture(t)
	view := f.session.Snapshot()
	nameID := fieldID(view, domain.FieldPersonName)

	if _, err := f.session.RecordCorrection(nameID, "Juan Pablo Pérez García", ""); err != nil {
		t.Fatalf("RecordCorrection() error = %v", err)
	}
	_ = f.session.SetObservations("margin note")

	view, err := f.session.Navigate(-1)
	if err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if view.Cursor != 0 {
		t.Fatalf("expected clamped cursor 0, got %d", view.Cursor)
	}

	view, _ = f.session.Navigate(1)
	if view.Cursor != 1 || view.Observations != "" {
		t.Fatalf("expected cursor 1 with reset observations, got %+v", view)
	}
	view, _ = f.session.Navigate(5)
	if view.Cursor != 2 {
		t.Fatalf("expected clamped cursor 2, got %d", view.Cursor)
	}

	view, _ = f.session.Navigate(-2)
	for _, field := range view.Fields {
		if field.LocalFieldID == nameID && (!field.Corrected || field.Value != "Juan Pablo Pérez García") {
			t.Fatalf("correction lost after navigation: %+v", field)
		}
	}
}

func TestRecordCorrectionStripsDisallowedCharacters(t *testing.T) {
	f := newSessionFixture(t)
	view := f.session.Snapshot()

	c, err := f.session.RecordCorrection(fieldID(view, domain.FieldBirthDay), "0x7", "")
	if err != nil {
		t.Fatalf("RecordCorrection() error = %v", err)
	}
	if c.CorrectedValue != "07" {
		t.Fatalf("expected digits only, got %q", c.CorrectedValue)
	}
}

func TestRecordCorrectionRejectsParishColumn(t *testing.T) {
	f := newSessionFixture(t)
	view := f.session.Snapshot()

	_, err := f.session.RecordCorrection(fieldID(view, domain.FieldParish), "Otra", "")
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := f.session.RecordCorrection("999:col_1:0", "x", ""); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown field, got %v", err)
	}
}

func TestSubmitRequiresInstitution(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.session.Submit(context.Background(), domain.ActionApprove)
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(f.validator.sent()) != 0 {
		t.Fatalf("nothing must be sent without an institution")
	}
	if f.session.Snapshot().State != domain.SessionIdle {
		t.Fatalf("session must stay idle")
	}
}

func TestSubmitBuildsValidatedDataWithCorrectionPrecedence(t *testing.T) {
	f := newSessionFixture(t)
	view := f.session.Snapshot()
	_ = f.session.SelectInstitution(4)
	_, _ = f.session.RecordCorrection(fieldID(view, domain.FieldBirthYear), "1991", "tinta corrida")
	_ = f.session.SetObservations("  revisado  ")

	if _, err := f.session.Submit(context.Background(), domain.ActionCorrect); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	sent := f.validator.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one submission, got %d", len(sent))
	}
	d := sent[0]
	if d.InstitutionID == nil || *d.InstitutionID != 4 || d.ReviewerID != 7 || d.TupleID != 101 || d.TupleNumber != 1 {
		t.Fatalf("unexpected decision header %+v", d)
	}
	if d.Observations != "revisado" {
		t.Fatalf("expected trimmed observations, got %q", d.Observations)
	}
	want := map[string]string{
		domain.FieldBirthYear:       "1991",
		domain.FieldBirthDay:        "5",
		domain.FieldBirthDate:       "1991-03-05",
		domain.FieldSacramentDate:   "1990-04-12",
		domain.FieldGivenNames:      "Juan Carlos",
		domain.FieldPaternalSurname: "Pérez",
		domain.FieldMaternalSurname: "García",
	}
	for k, v := range want {
		if d.ValidatedData[k] != v {
			t.Fatalf("validated data %s = %q, want %q", k, d.ValidatedData[k], v)
		}
	}
	if _, ok := d.ValidatedData[domain.FieldParish]; ok {
		t.Fatalf("parish column must not be submitted")
	}
}

func TestRejectBypassesInstitutionAndDuplicateCheck(t *testing.T) {
	f := newSessionFixture(t)
	f.validator.results = []domain.ValidationResult{{TotalTuples: 3, ValidatedTuples: 1, PendingTuples: 2, NextTupleNumber: intPtr(2)}}

	outcome, err := f.session.Submit(context.Background(), domain.ActionReject)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if outcome.State != domain.SessionIdle {
		t.Fatalf("expected idle after reject, got %s", outcome.State)
	}
	if len(f.finder.queries) != 0 {
		t.Fatalf("reject must not search for duplicates")
	}
	d := f.validator.sent()[0]
	if d.InstitutionID != nil || len(d.ValidatedData) != 0 || d.Action != domain.ActionReject {
		t.Fatalf("expected minimal reject payload, got %+v", d)
	}
}

func TestHappyPathFollowsServerSequencing(t *testing.T) {
	f := newSessionFixture(t)
	f.validator.results = []domain.ValidationResult{
		{TotalTuples: 3, ValidatedTuples: 1, PendingTuples: 2, NextTupleNumber: intPtr(2)},
		{TotalTuples: 3, ValidatedTuples: 2, PendingTuples: 1, NextTupleNumber: intPtr(3)},
		{TotalTuples: 3, ValidatedTuples: 3, PendingTuples: 0, Completed: true},
	}
	_ = f.session.SelectInstitution(4)
	ctx := context.Background()

	if _, err := f.session.Submit(ctx, domain.ActionApprove); err != nil {
		t.Fatalf("Submit(1) error = %v", err)
	}
	view := f.session.Snapshot()
	if view.TupleNumber != 2 || view.State != domain.SessionIdle || view.CorrectionCount != 0 {
		t.Fatalf("expected idle at tuple 2, got %+v", view)
	}
	if view.Counters.Validated != 1 || view.Counters.Pending != 2 {
		t.Fatalf("counters must come from the server, got %+v", view.Counters)
	}

	if _, err := f.session.Submit(ctx, domain.ActionApprove); err != nil {
		t.Fatalf("Submit(2) error = %v", err)
	}
	if f.session.Snapshot().TupleNumber != 3 {
		t.Fatalf("expected tuple 3")
	}

	outcome, err := f.session.Submit(ctx, domain.ActionApprove)
	if err != nil {
		t.Fatalf("Submit(3) error = %v", err)
	}
	if outcome.State != domain.SessionCompleted {
		t.Fatalf("expected completed, got %s", outcome.State)
	}
	if len(f.notifier.completed) != 1 || f.notifier.completed[0] != "doc-1" {
		t.Fatalf("expected completion notification, got %v", f.notifier.completed)
	}
	if len(f.notifier.events) != 3 {
		t.Fatalf("expected 3 tuple events, got %d", len(f.notifier.events))
	}
	if _, err := f.session.Submit(ctx, domain.ActionApprove); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation on completed session, got %v", err)
	}
}

func TestServerMaySkipAhead(t *testing.T) {
	f := newSessionFixture(t)
	f.validator.results = []domain.ValidationResult{{TotalTuples: 3, ValidatedTuples: 2, PendingTuples: 1, NextTupleNumber: intPtr(3)}}
	third, _ := f.session.Navigate(2)
	_, _ = f.session.RecordCorrection(fieldID(third, domain.FieldPersonName), "Luis Mora Vega", "")
	_, _ = f.session.Navigate(-2)

	if _, err := f.session.Submit(context.Background(), domain.ActionReject); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	view := f.session.Snapshot()
	if view.TupleNumber != 3 {
		t.Fatalf("expected jump to tuple 3, got %d", view.TupleNumber)
	}
	for _, field := range view.Fields {
		if field.Corrected {
			t.Fatalf("corrections of the new tuple must be reset, got %+v", field)
		}
	}
}

func TestUnknownNextTupleTriggersReload(t *testing.T) {
	f := newSessionFixture(t)
	f.validator.results = []domain.ValidationResult{{TotalTuples: 4, ValidatedTuples: 1, PendingTuples: 3, NextTupleNumber: intPtr(4)}}

	extra := registerTuple(104, 4, "Eva Paz", "2", "2", "1992")
	f.tuples.tuples = append(f.tuples.tuples, extra)

	if _, err := f.session.Submit(context.Background(), domain.ActionReject); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if f.tuples.calls != 2 {
		t.Fatalf("expected a fresh load, got %d loads", f.tuples.calls)
	}
	view := f.session.Snapshot()
	if view.TupleNumber != 4 || view.State != domain.SessionIdle {
		t.Fatalf("expected idle at tuple 4, got %+v", view)
	}
}

func TestSubmissionFailureKeepsSessionInPlace(t *testing.T) {
	f := newSessionFixture(t)
	f.validator.err = &domain.SubmissionError{Detail: "La tupla ya fue validada"}
	view := f.session.Snapshot()
	_ = f.session.SelectInstitution(4)
	_, _ = f.session.RecordCorrection(fieldID(view, domain.FieldPersonName), "Juan Pérez", "")

	_, err := f.session.Submit(context.Background(), domain.ActionCorrect)
	if !domain.IsKind(err, domain.ErrSubmission) {
		t.Fatalf("expected ErrSubmission, got %v", err)
	}

	after := f.session.Snapshot()
	if after.State != domain.SessionIdle || after.TupleNumber != 1 || after.CorrectionCount != 1 {
		t.Fatalf("session moved after failure: %+v", after)
	}
	if after.LastError != "La tupla ya fue validada" {
		t.Fatalf("expected server detail, got %q", after.LastError)
	}
}

func TestSecondSubmitWhileInFlightIsIgnored(t *testing.T) {
	f := newSessionFixture(t)
	f.validator.block = make(chan struct{})
	f.validator.entered = make(chan struct{}, 1)
	f.validator.results = []domain.ValidationResult{{TotalTuples: 3, ValidatedTuples: 1, PendingTuples: 2, NextTupleNumber: intPtr(2)}}

	done := make(chan error, 1)
	go func() {
		_, err := f.session.Submit(context.Background(), domain.ActionReject)
		done <- err
	}()
	<-f.validator.entered

	if _, err := f.session.Submit(context.Background(), domain.ActionReject); !domain.IsKind(err, domain.ErrBusy) {
		t.Fatalf("expected ErrBusy for concurrent submit, got %v", err)
	}
	if _, err := f.session.Navigate(1); !domain.IsKind(err, domain.ErrBusy) {
		t.Fatalf("expected ErrBusy for navigation during submit, got %v", err)
	}
	if f.session.Snapshot().State != domain.SessionSubmitting {
		t.Fatalf("expected submitting state")
	}

	close(f.validator.block)
	if err := <-done; err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if got := len(f.validator.sent()); got != 1 {
		t.Fatalf("expected exactly one submission, got %d", got)
	}
	if f.session.Snapshot().TupleNumber != 2 {
		t.Fatalf("expected tuple 2 after first submission")
	}
}

func TestDuplicateCandidatePausesAndConfirmSendsPersonID(t *testing.T) {
	f := newSessionFixture(t)
	f.finder.persons = []domain.CandidatePerson{
		{ID: 55, GivenNames: "Juan Carlos", PaternalSurname: "Pérez", BirthDate: "1990-03-05", BaptismDate: "1989-01-01"},
		{ID: 77, GivenNames: "Juan Carlos", PaternalSurname: "Pérez", BirthDate: "1990-03-05", BaptismDate: "1990-04-12T00:00:00"},
	}
	f.validator.results = []domain.ValidationResult{{TotalTuples: 3, ValidatedTuples: 1, PendingTuples: 2, NextTupleNumber: intPtr(2)}}
	_ = f.session.SelectInstitution(4)

	outcome, err := f.session.Submit(context.Background(), domain.ActionApprove)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if outcome.State != domain.SessionAwaitingConfirmation || outcome.Candidate == nil || outcome.Candidate.ID != 77 {
		t.Fatalf("expected pause with candidate 77, got %+v", outcome)
	}
	if len(f.validator.sent()) != 0 {
		t.Fatalf("nothing must be sent before confirmation")
	}
	q := f.finder.queries[0]
	if q.BirthDate != "1990-03-05" || q.SacramentDate != "1990-04-12" || q.Name.MaternalSurname != "García" {
		t.Fatalf("unexpected duplicate query %+v", q)
	}
	if _, err := f.session.Navigate(1); !domain.IsKind(err, domain.ErrBusy) {
		t.Fatalf("expected ErrBusy while awaiting confirmation, got %v", err)
	}

	outcome, err = f.session.ConfirmDuplicate(context.Background())
	if err != nil {
		t.Fatalf("ConfirmDuplicate() error = %v", err)
	}
	sent := f.validator.sent()
	if len(sent) != 1 || sent[0].ExistingPersonID == nil || *sent[0].ExistingPersonID != 77 {
		t.Fatalf("expected existing person id 77, got %+v", sent)
	}
	if sent[0].ValidatedData[domain.FieldGivenNames] != "Juan Carlos" {
		t.Fatalf("confirmation must reuse the original payload")
	}
	if outcome.State != domain.SessionIdle || f.session.Snapshot().TupleNumber != 2 {
		t.Fatalf("expected idle at tuple 2, got %+v", outcome)
	}
}

func TestCancelDuplicateReturnsToEditing(t *testing.T) {
	f := newSessionFixture(t)
	f.finder.persons = []domain.CandidatePerson{{ID: 77, BirthDate: "1990-03-05", BaptismDate: "1990-04-12"}}
	_ = f.session.SelectInstitution(4)

	if _, err := f.session.Submit(context.Background(), domain.ActionApprove); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	view, err := f.session.CancelDuplicate()
	if err != nil {
		t.Fatalf("CancelDuplicate() error = %v", err)
	}
	if view.State != domain.SessionIdle || !view.EditMode || view.PendingCandidate != nil {
		t.Fatalf("expected idle edit mode without candidate, got %+v", view)
	}
	if len(f.validator.sent()) != 0 {
		t.Fatalf("cancel must not reach the server")
	}
	if _, err := f.session.ConfirmDuplicate(context.Background()); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation after cancel, got %v", err)
	}
}

func TestDuplicateSearchFailureFailsOpen(t *testing.T) {
	f := newSessionFixture(t)
	f.finder.err = errors.New("search timeout")
	_ = f.session.SelectInstitution(4)

	outcome, err := f.session.Submit(context.Background(), domain.ActionApprove)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if outcome.State == domain.SessionAwaitingConfirmation {
		t.Fatalf("search failure must not pause the flow")
	}
	if len(f.validator.sent()) != 1 {
		t.Fatalf("expected submission despite search failure")
	}
}
