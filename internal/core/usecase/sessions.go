package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
	"github.com/kirillkom/parish-ocr-validation/internal/core/ports"
)

// ValidationService keeps one in-memory validation session per document.
// Sessions do not survive a restart.
type ValidationService struct {
	deps         ValidationDeps
	institutions ports.InstitutionDirectory

	mu       sync.Mutex
	sessions map[string]*ValidationSession
}

func NewValidationService(deps ValidationDeps, institutions ports.InstitutionDirectory) *ValidationService {
	return &ValidationService{
		deps:         deps.normalize(),
		institutions: institutions,
		sessions:     make(map[string]*ValidationSession),
	}
}

// Open loads a fresh session for documentID, replacing any idle one.
func (s *ValidationService) Open(ctx context.Context, documentID string, reviewerID int64, sacrament domain.SacramentType) (*ValidationSession, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, domain.WrapError(domain.ErrValidation, "open session", errors.New("document id is required"))
	}
	if reviewerID <= 0 {
		return nil, domain.WrapError(domain.ErrValidation, "open session", errors.New("reviewer id is required"))
	}
	if sacrament == "" {
		sacrament = domain.SacramentBaptism
	}
	if !sacrament.Valid() {
		return nil, domain.WrapError(domain.ErrValidation, "open session", fmt.Errorf("unknown sacrament %q", sacrament))
	}

	s.mu.Lock()
	if existing, ok := s.sessions[documentID]; ok && existing.Snapshot().State == domain.SessionSubmitting {
		s.mu.Unlock()
		return nil, domain.WrapError(domain.ErrBusy, "open session", errors.New("current session is submitting"))
	}
	s.mu.Unlock()

	session := NewValidationSession(s.deps, documentID, reviewerID, sacrament)
	if err := session.Load(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[documentID] = session
	s.mu.Unlock()
	return session, nil
}

func (s *ValidationService) Session(documentID string) (*ValidationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[documentID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get session", fmt.Errorf("no validation session for document %s", documentID))
	}
	return session, nil
}

func (s *ValidationService) Close(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, documentID)
}

func (s *ValidationService) ListInstitutions(ctx context.Context) ([]domain.Institution, error) {
	if s.institutions == nil {
		return []domain.Institution{}, nil
	}
	list, err := s.institutions.ListInstitutions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list institutions: %w", err)
	}
	return list, nil
}
