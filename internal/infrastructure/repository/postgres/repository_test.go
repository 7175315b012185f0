package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return db, mock, func() { _ = db.Close() }
}

func TestPrepareClosesPoolWhenPingFails(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	if err := prepare(db); err == nil {
		t.Fatalf("expected ping error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("pool was not closed: %v", err)
	}
}

func TestPrepareKeepsReachablePool(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	if err := prepare(db); err != nil {
		t.Fatalf("prepare() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(int64(2026101501)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS validation_journal").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJournalAppendIsIdempotentInsert(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	validatedAt := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	recordedAt := time.Date(2026, 10, 15, 9, 30, 5, 0, time.UTC)
	repo := NewJournalRepository(db)
	repo.now = func() time.Time { return recordedAt }

	institution := int64(4)
	personID := int64(9)
	event := domain.TupleValidatedEvent{
		EventID: "evt-1",
		Decision: domain.ValidationDecision{
			DocumentID:    "doc-1",
			TupleNumber:   2,
			TupleID:       102,
			ReviewerID:    7,
			InstitutionID: &institution,
			ValidatedData: map[string]string{"nombres": "Ana"},
			Observations:  "ok",
			Action:        domain.ActionApprove,
		},
		Result:      domain.ValidationResult{PersonID: &personID, Completed: true},
		ValidatedAt: validatedAt,
	}

	mock.ExpectExec("INSERT INTO validation_journal").
		WithArgs("evt-1", "doc-1", int64(102), 2, int64(7), &institution, "approve",
			sqlmock.AnyArg(), &personID, sqlmock.AnyArg(), []byte(`{"nombres":"Ana"}`), "ok",
			true, validatedAt, recordedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Append(context.Background(), event); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJournalCountByDocument(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := NewJournalRepository(db).CountByDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("CountByDocument() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("CountByDocument() = %d, want 3", n)
	}
}

func TestFindPersonsScansCandidates(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	columns := []string{"id", "nombres", "apellido_paterno", "apellido_materno", "fecha_nacimiento", "fecha_bautizo", "fecha_confirmacion"}
	mock.ExpectQuery("FROM personas").
		WithArgs("Juan Carlos", "Pérez", "", "1990-03-05").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(77), "Juan Carlos", "Pérez", "García", "1990-03-05", "1990-04-12", ""))

	persons, err := NewPersonRepository(db).FindPersons(context.Background(), domain.PersonQuery{
		Name:          domain.PersonName{GivenNames: "Juan Carlos", PaternalSurname: "Pérez"},
		BirthDate:     "1990-03-05",
		SacramentDate: "1990-04-12",
		Sacrament:     domain.SacramentBaptism,
	})
	if err != nil {
		t.Fatalf("FindPersons() error = %v", err)
	}
	if len(persons) != 1 || persons[0].ID != 77 || persons[0].MaternalSurname != "García" {
		t.Fatalf("unexpected persons %+v", persons)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindPersonsWrapsQueryError(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectQuery("FROM personas").WillReturnError(errors.New("connection reset"))

	_, err := NewPersonRepository(db).FindPersons(context.Background(), domain.PersonQuery{})
	if err == nil {
		t.Fatalf("expected error")
	}
}
