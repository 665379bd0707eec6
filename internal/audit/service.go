package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Lister is implemented by repositories that can return recent events.
type Lister interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// Service records selection outcomes and operator actions.
//
// IMPORTANT:
// - Audit is internal-only.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if !e.Type.valid() {
		return ErrInvalidEvent
	}
	if e.Type == EventTypeAdminAction {
		if e.ActorUserID == "" {
			return ErrInvalidEvent
		}
	} else if e.SlotID < 0 {
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

// LogAdminAction records an operator action such as a carrier policy update.
func (s *Service) LogAdminAction(ctx context.Context, actorUserID, actorRole, ip string, subID int, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeAdminAction,
		SlotID:      -1,
		SubID:       subID,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Message:     message,
		Metadata:    metadata,
	})
}

// Recent returns up to limit of the newest events, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]Event, error) {
	l, ok := s.repo.(Lister)
	if !ok {
		return nil, errors.New("audit: repository cannot list events")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.Recent(ctx, limit)
}
