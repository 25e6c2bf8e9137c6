package exchange

import (
	"context"

	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/domain/shared"
	"github.com/google/uuid"
)

// ImportSessionService serves the operator dashboard
type ImportSessionService struct {
	sessions exchange.ImportSessionRepository
}

// NewImportSessionService creates the service
func NewImportSessionService(sessions exchange.ImportSessionRepository) *ImportSessionService {
	return &ImportSessionService{sessions: sessions}
}

// List returns one page of sessions, newest first. An empty import type lists all.
func (s *ImportSessionService) List(ctx context.Context, importType exchange.ImportType, filter shared.Filter) ([]ImportSessionResponse, int64, error) {
	if importType != "" && !importType.IsValid() {
		return nil, 0, shared.ErrInvalidInput
	}
	sessions, total, err := s.sessions.List(ctx, importType, filter)
	if err != nil {
		return nil, 0, err
	}
	out := make([]ImportSessionResponse, len(sessions))
	for i := range sessions {
		out[i] = ToImportSessionResponse(&sessions[i], false)
	}
	return out, total, nil
}

// Get returns one session with its report
func (s *ImportSessionService) Get(ctx context.Context, id uuid.UUID) (*ImportSessionResponse, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToImportSessionResponse(session, true)
	return &resp, nil
}
