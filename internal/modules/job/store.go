// README: Job store backed by PostgreSQL. The claim is a single conditional UPDATE.
package job

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/infra"
	"dispatch/internal/types"
)

// Repository is implemented by Store and MemoryStore.
type Repository interface {
	Get(ctx context.Context, id types.ID) (*Job, error)
	ListOpen(ctx context.Context) ([]Job, error)
	CountByStatus(ctx context.Context, status Status) (int, error)
	Claim(ctx context.Context, id, driverID types.ID) (bool, error)
	Transition(ctx context.Context, id types.ID, driverID *types.ID, from, to Status) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const jobColumns = `
	id, order_id,
	pickup_address, pickup_lat, pickup_lng,
	delivery_address, delivery_lat, delivery_lng,
	distance_km, earnings, status, driver_id,
	created_at, accepted_at, picked_up_at, delivered_at, cancelled_at`

func (s *Store) Get(ctx context.Context, id types.ID) (*Job, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM delivery_jobs WHERE id = $1`, string(id))
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, infra.StoreError(err)
	}
	return j, nil
}

// ListOpen returns pending, unassigned jobs, newest first.
func (s *Store) ListOpen(ctx context.Context) ([]Job, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM delivery_jobs
		WHERE status = 'pending' AND driver_id IS NULL
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, infra.StoreError(err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, infra.StoreError(err)
		}
		out = append(out, *j)
	}
	return out, infra.StoreError(rows.Err())
}

func (s *Store) CountByStatus(ctx context.Context, status Status) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM delivery_jobs WHERE status = $1`, string(status)).Scan(&n)
	return n, infra.StoreError(err)
}

// Claim assigns the driver only if the job is still pending and unassigned.
// Exactly one concurrent caller observes true.
func (s *Store) Claim(ctx context.Context, id, driverID types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE delivery_jobs
		SET driver_id = $1,
		    status = 'accepted',
		    accepted_at = NOW()
		WHERE id = $2 AND status = 'pending' AND driver_id IS NULL`,
		string(driverID),
		string(id),
	)
	if err != nil {
		return false, infra.StoreError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// Transition moves a job from -> to if it is still in `from` and still owned by driverID
// (nil driverID matches an unassigned job).
func (s *Store) Transition(ctx context.Context, id types.ID, driverID *types.ID, from, to Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE delivery_jobs
		SET status = $1,
		    picked_up_at = CASE WHEN $1 = 'picked_up' THEN NOW() ELSE picked_up_at END,
		    delivered_at = CASE WHEN $1 = 'delivered' THEN NOW() ELSE delivered_at END,
		    cancelled_at = CASE WHEN $1 = 'cancelled' THEN NOW() ELSE cancelled_at END
		WHERE id = $2 AND status = $3 AND driver_id IS NOT DISTINCT FROM $4`,
		string(to),
		string(id),
		string(from),
		toStringPtr(driverID),
	)
	if err != nil {
		return false, infra.StoreError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO job_state_events (
			job_id, from_status, to_status, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5)`,
		string(e.JobID),
		string(e.FromStatus),
		string(e.ToStatus),
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return infra.StoreError(err)
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j                 Job
		id, status        string
		orderID, driverID *string
		acceptedAt        *time.Time
		pickedUpAt        *time.Time
		deliveredAt       *time.Time
		cancelledAt       *time.Time
	)
	err := row.Scan(
		&id, &orderID,
		&j.Pickup.Line, &j.Pickup.Lat, &j.Pickup.Lng,
		&j.Delivery.Line, &j.Delivery.Lat, &j.Delivery.Lng,
		&j.DistanceKm, &j.Earnings, &status, &driverID,
		&j.CreatedAt, &acceptedAt, &pickedUpAt, &deliveredAt, &cancelledAt,
	)
	if err != nil {
		return nil, err
	}
	j.ID = types.ID(id)
	j.Status = Status(status)
	j.OrderID = fromStringPtr(orderID)
	j.DriverID = fromStringPtr(driverID)
	j.AcceptedAt = acceptedAt
	j.PickedUpAt = pickedUpAt
	j.DeliveredAt = deliveredAt
	j.CancelledAt = cancelledAt
	return &j, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func fromStringPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}
