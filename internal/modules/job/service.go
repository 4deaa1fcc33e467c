// README: Job service advances claimed jobs through fulfillment and publishes updates.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dispatch/internal/feed"
	"dispatch/internal/types"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrInvalidState = errors.New("invalid job state transition")
	ErrConflict     = errors.New("job state conflict")
	ErrNotAssigned  = errors.New("job is not assigned to this driver")
	ErrBadRequest   = errors.New("bad request")
)

// Publisher is the write side of feed.Broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, evt feed.Event) error
}

type Service struct {
	store     Repository
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store Repository, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, publisher: publisher, logger: logger, now: time.Now}
}

type AdvanceCommand struct {
	JobID    types.ID
	DriverID types.ID // empty for dispatcher cancellation of an unassigned job
	To       Status
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Job, error) {
	return s.store.Get(ctx, id)
}

// Advance moves a job along its lifecycle. pending -> accepted is refused here;
// that transition belongs to the claim.
func (s *Service) Advance(ctx context.Context, cmd AdvanceCommand) (*Job, error) {
	if cmd.JobID == "" || !cmd.To.Valid() {
		return nil, ErrBadRequest
	}
	if cmd.To == StatusAccepted {
		return nil, ErrInvalidState
	}
	j, err := s.store.Get(ctx, cmd.JobID)
	if err != nil {
		return nil, err
	}

	var actor *types.ID
	if cmd.DriverID != "" {
		d := cmd.DriverID
		actor = &d
	}
	if !sameDriver(j.DriverID, actor) {
		return nil, ErrNotAssigned
	}
	if !CanTransition(j.Status, cmd.To) {
		return nil, ErrInvalidState
	}

	ok, err := s.store.Transition(ctx, j.ID, actor, j.Status, cmd.To)
	if err != nil {
		return nil, fmt.Errorf("transition job %s: %w", j.ID, err)
	}
	if !ok {
		return nil, ErrConflict
	}

	if err := s.store.AppendEvent(ctx, &Event{
		JobID:      j.ID,
		FromStatus: j.Status,
		ToStatus:   cmd.To,
		ActorID:    actor,
		CreatedAt:  s.now(),
	}); err != nil {
		s.logger.Warn("append job event failed", "job_id", j.ID, "error", err)
	}

	updated, err := s.store.Get(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	s.PublishUpdate(ctx, updated)
	return updated, nil
}

// PublishUpdate pushes the job's current state to job subscribers. Failures are logged only.
func (s *Service) PublishUpdate(ctx context.Context, j *Job) {
	if s.publisher == nil || j == nil {
		return
	}
	evt, err := feed.NewEvent(feed.EventJobUpdated, j)
	if err != nil {
		s.logger.Warn("encode job event failed", "job_id", j.ID, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, feed.JobTopic(j.ID), evt); err != nil {
		s.logger.Warn("publish job update failed", "job_id", j.ID, "error", err)
	}
}
