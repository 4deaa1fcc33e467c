// README: Driver store backed by PostgreSQL; current_location is written only by tracking.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/infra"
	"dispatch/internal/types"
)

var (
	ErrNotFound     = errors.New("driver not found")
	ErrInvalidState = errors.New("invalid driver status transition")
	ErrConflict     = errors.New("driver status conflict")
)

type Repository interface {
	Get(ctx context.Context, id types.ID) (*Driver, error)
	CountByStatus(ctx context.Context, status Status) (int, error)
	UpdateLocation(ctx context.Context, id types.ID, loc types.GeoLocation) error
	UpdateStatus(ctx context.Context, id types.ID, from, to Status) (bool, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, phone, email, vehicle_type, vehicle_plate, status,
		       rating, total_deliveries,
		       location_lat, location_lng, location_accuracy, location_heading, location_speed, location_at,
		       created_at, updated_at
		FROM drivers
		WHERE id = $1`, string(id),
	)

	var (
		d             Driver
		rawID, status string
		lat, lng      *float64
		loc           types.GeoLocation
		locatedAt     *time.Time
	)
	err := row.Scan(
		&rawID, &d.Name, &d.Phone, &d.Email, &d.VehicleType, &d.VehiclePlate, &status,
		&d.Rating, &d.TotalDeliveries,
		&lat, &lng, &loc.Accuracy, &loc.Heading, &loc.Speed, &locatedAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, infra.StoreError(err)
	}
	d.ID = types.ID(rawID)
	d.Status = Status(status)
	if lat != nil && lng != nil {
		loc.Lat, loc.Lng = *lat, *lng
		loc.Timestamp = locatedAt
		d.CurrentLocation = &loc
	}
	return &d, nil
}

func (s *Store) CountByStatus(ctx context.Context, status Status) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM drivers WHERE status = $1`, string(status)).Scan(&n)
	return n, infra.StoreError(err)
}

// UpdateLocation overwrites the driver's last known fix.
func (s *Store) UpdateLocation(ctx context.Context, id types.ID, loc types.GeoLocation) error {
	at := time.Now().UTC()
	if loc.Timestamp != nil {
		at = *loc.Timestamp
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET location_lat = $1,
		    location_lng = $2,
		    location_accuracy = $3,
		    location_heading = $4,
		    location_speed = $5,
		    location_at = $6,
		    updated_at = NOW()
		WHERE id = $7`,
		loc.Lat, loc.Lng, loc.Accuracy, loc.Heading, loc.Speed, at,
		string(id),
	)
	if err != nil {
		return infra.StoreError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from, to Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		string(to), string(id), string(from),
	)
	if err != nil {
		return false, infra.StoreError(err)
	}
	return tag.RowsAffected() == 1, nil
}
