package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for journal events. It is
// append-only: no Update or Delete.
type Repository interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, q Query) ([]Event, error)
}

// Service validates and stamps journal events.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrInvalidEvent = errors.New("audit: invalid event")
	ErrNoRepository = errors.New("audit: repository not configured")
)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return ErrNoRepository
	}
	if e.WorkspaceID == "" || e.Type == "" || e.Identity == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// History returns the newest journal entries for a workspace, optionally
// narrowed to one agent.
func (s *Service) History(ctx context.Context, q Query) ([]Event, error) {
	if s.repo == nil {
		return nil, ErrNoRepository
	}
	if q.WorkspaceID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.List(ctx, q)
}
