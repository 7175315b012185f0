package usecase

import (
	"context"
	"log/slog"

	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
	"github.com/kirillkom/parish-ocr-validation/internal/core/ports"
)

// DuplicatePersonResolver looks for an existing person with the same name and
// dates before a record creates a new one. Search failures count as "no
// candidate": a flaky search must not block validation.
type DuplicatePersonResolver struct {
	finder ports.PersonFinder
	logger *slog.Logger
}

func NewDuplicatePersonResolver(finder ports.PersonFinder, logger *slog.Logger) *DuplicatePersonResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DuplicatePersonResolver{finder: finder, logger: logger}
}

// FindCandidate returns the first person whose birth date and sacrament date
// both match exactly, or nil.
func (r *DuplicatePersonResolver) FindCandidate(ctx context.Context, query domain.PersonQuery) *domain.CandidatePerson {
	if r == nil || r.finder == nil {
		return nil
	}
	if query.Name.Empty() || query.BirthDate == "" || query.SacramentDate == "" {
		return nil
	}

	persons, err := r.finder.FindPersons(ctx, query)
	if err != nil {
		r.logger.Warn("duplicate_search_failed",
			"given_names", query.Name.GivenNames,
			"paternal_surname", query.Name.PaternalSurname,
			"error", err,
		)
		return nil
	}

	for _, p := range persons {
		if sameDate(p.BirthDate, query.BirthDate) && sameDate(p.SacramentDate(query.Sacrament), query.SacramentDate) {
			match := p
			return &match
		}
	}
	return nil
}

// sameDate compares the calendar part only; the registry may send
// timestamps for date columns.
func sameDate(a, b string) bool {
	if len(a) > 10 {
		a = a[:10]
	}
	if len(b) > 10 {
		b = b[:10]
	}
	return a != "" && a == b
}
