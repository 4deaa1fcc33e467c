// README: Driver service applies status transitions with an optimistic status check.
package driver

import (
	"context"
	"fmt"

	"dispatch/internal/types"
)

type Service struct {
	store Repository
}

func NewService(store Repository) *Service {
	return &Service{store: store}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return s.store.Get(ctx, id)
}

// SetStatus moves the driver to the requested status if the lifecycle allows it.
func (s *Service) SetStatus(ctx context.Context, id types.ID, to Status) (*Driver, error) {
	if !to.Valid() {
		return nil, ErrInvalidState
	}
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == to {
		return d, nil
	}
	if !CanTransition(d.Status, to) {
		return nil, ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, id, d.Status, to)
	if err != nil {
		return nil, fmt.Errorf("update driver %s status: %w", id, err)
	}
	if !ok {
		return nil, ErrConflict
	}
	return s.store.Get(ctx, id)
}
