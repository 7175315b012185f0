package ports

import (
	"context"

	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
)

// ProgressSource answers status queries for in-flight OCR jobs.
type ProgressSource interface {
	FetchProgress(ctx context.Context, documentID string) (domain.ProgressReport, error)
}

// TupleSource loads the tuples still pending validation for a document.
type TupleSource interface {
	PendingTuples(ctx context.Context, documentID string) ([]domain.OcrTuple, error)
}

// InstitutionDirectory lists the parishes a record can be attributed to.
type InstitutionDirectory interface {
	ListInstitutions(ctx context.Context) ([]domain.Institution, error)
}

// PersonFinder searches persons by name fragments and dates.
type PersonFinder interface {
	FindPersons(ctx context.Context, query domain.PersonQuery) ([]domain.CandidatePerson, error)
}

// TupleValidator submits one reviewer decision.
type TupleValidator interface {
	ValidateTuple(ctx context.Context, decision domain.ValidationDecision) (domain.ValidationResult, error)
}

// ValidationNotifier receives accepted decisions and completed documents.
type ValidationNotifier interface {
	TupleValidated(ctx context.Context, event domain.TupleValidatedEvent) error
	DocumentValidated(ctx context.Context, documentID string) error
}

// EventBus carries OCR job and validation events between processes.
type EventBus interface {
	ValidationNotifier
	SubscribeJobStarted(ctx context.Context, handler func(context.Context, string) error) error
	SubscribeTupleValidated(ctx context.Context, handler func(context.Context, domain.TupleValidatedEvent) error) error
}

// DecisionJournal keeps an append-only record of accepted decisions.
type DecisionJournal interface {
	Append(ctx context.Context, event domain.TupleValidatedEvent) error
	CountByDocument(ctx context.Context, documentID string) (int, error)
}
