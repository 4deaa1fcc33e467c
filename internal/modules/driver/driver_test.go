package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"dispatch/internal/infra/pgtest"
	"dispatch/internal/types"
)

func TestEligible(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusAvailable, true},
		{StatusBusy, true},
		{StatusPending, false},
		{StatusOffline, false},
		{StatusSuspended, false},
	}
	for _, tt := range tests {
		if got := (Driver{Status: tt.status}).Eligible(); got != tt.want {
			t.Errorf("Eligible(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestService_SetStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.Put(Driver{ID: "d1", Name: "Ada", Status: StatusPending})
	svc := NewService(m)

	d, err := svc.SetStatus(ctx, "d1", StatusAvailable)
	if err != nil || d.Status != StatusAvailable {
		t.Fatalf("approve: %+v err=%v", d, err)
	}
	// same status is a no-op
	if _, err := svc.SetStatus(ctx, "d1", StatusAvailable); err != nil {
		t.Fatalf("idempotent set: %v", err)
	}
	if _, err := svc.SetStatus(ctx, "d1", StatusPending); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("available -> pending err = %v", err)
	}
	if _, err := svc.SetStatus(ctx, "d1", "flying"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("unknown status err = %v", err)
	}
	if _, err := svc.SetStatus(ctx, "ghost", StatusOffline); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing driver err = %v", err)
	}

	avail, _ := m.CountByStatus(ctx, StatusAvailable)
	if avail != 1 {
		t.Fatalf("available count = %d", avail)
	}
}

func TestMemoryStore_UpdateLocationOverwrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.Put(Driver{ID: "d1", Status: StatusAvailable})

	acc := 12.0
	_ = m.UpdateLocation(ctx, "d1", types.GeoLocation{Lat: 1, Lng: 1})
	if err := m.UpdateLocation(ctx, "d1", types.GeoLocation{Lat: 2, Lng: 3, Accuracy: &acc}); err != nil {
		t.Fatalf("update location: %v", err)
	}
	d, _ := m.Get(ctx, "d1")
	if d.CurrentLocation == nil || d.CurrentLocation.Lat != 2 || d.CurrentLocation.Lng != 3 || *d.CurrentLocation.Accuracy != 12 {
		t.Fatalf("unexpected location %+v", d.CurrentLocation)
	}
	if err := m.UpdateLocation(ctx, "ghost", types.GeoLocation{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing driver err = %v", err)
	}
}

func TestStore_Postgres(t *testing.T) {
	ctx := context.Background()
	db := pgtest.Open(t)
	store := NewStore(db)

	if _, err := db.Exec(ctx, `INSERT INTO drivers (id, name, status) VALUES ('pg_d1', 'Grace', 'available'), ('pg_d2', 'Linus', 'offline')`); err != nil {
		t.Fatalf("insert drivers: %v", err)
	}

	n, err := store.CountByStatus(ctx, StatusAvailable)
	if err != nil || n != 1 {
		t.Fatalf("count available = %d err=%v", n, err)
	}

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	speed := 8.5
	if err := store.UpdateLocation(ctx, "pg_d1", types.GeoLocation{Lat: 6.45, Lng: 3.39, Speed: &speed, Timestamp: &at}); err != nil {
		t.Fatalf("update location: %v", err)
	}
	d, err := store.Get(ctx, "pg_d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.CurrentLocation == nil || d.CurrentLocation.Lat != 6.45 || d.CurrentLocation.Speed == nil || *d.CurrentLocation.Speed != 8.5 {
		t.Fatalf("unexpected location %+v", d.CurrentLocation)
	}
	if d.CurrentLocation.Accuracy != nil {
		t.Fatalf("accuracy should stay NULL, got %v", *d.CurrentLocation.Accuracy)
	}

	if ok, err := store.UpdateStatus(ctx, "pg_d2", StatusAvailable, StatusBusy); err != nil || ok {
		t.Fatalf("stale from-status should not apply: ok=%v err=%v", ok, err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing driver err = %v", err)
	}
}
