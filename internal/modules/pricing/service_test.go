package pricing

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/geo"
	"dispatch/internal/modules/job"
	"dispatch/internal/types"
)

type fakeOracle struct {
	surge float64
	err   error
	calls atomic.Int32
}

func (f *fakeOracle) SurgeMultiplier(context.Context) (float64, error) {
	f.calls.Add(1)
	return f.surge, f.err
}

type fakeRoute struct {
	km  float64
	err error
}

func (f fakeRoute) DrivingDistanceKm(context.Context, types.Point, types.Point) (float64, error) {
	return f.km, f.err
}

func ptr[T any](v T) *T { return &v }

// 2026-02-10 is a Tuesday.
var (
	weekdayNoon  = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	weekdayLate  = time.Date(2026, 2, 10, 23, 30, 0, 0, time.UTC)
	saturdayNoon = time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	saturdayLate = time.Date(2026, 2, 14, 23, 0, 0, 0, time.UTC)
)

func newTestEngine(oracle SurgeOracle) *Engine {
	e := NewEngine(config.DefaultPricing(), oracle, nil, nil)
	e.now = func() time.Time { return weekdayNoon }
	return e
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEngine_CalculatePrice(t *testing.T) {
	tests := []struct {
		name         string
		distanceKm   float64
		opts         PriceOptions
		surge        float64
		wantTimeFee  float64
		wantSurgeFee float64
		wantSubtotal float64
	}{
		{
			name:         "weekday daytime, no surge",
			distanceKm:   10,
			opts:         PriceOptions{ScheduledTime: &weekdayNoon},
			surge:        1.0,
			wantSubtotal: 105, // 25 + 10*8
		},
		{
			name:         "urgent",
			distanceKm:   10,
			opts:         PriceOptions{IsUrgent: true, ScheduledTime: &weekdayNoon},
			surge:        1.0,
			wantTimeFee:  52.5,  // 105 * 0.5
			wantSubtotal: 157.5, // 105 + 52.5
		},
		{
			name:         "night",
			distanceKm:   10,
			opts:         PriceOptions{ScheduledTime: &weekdayLate},
			surge:        1.0,
			wantTimeFee:  26.25,  // 105 * 0.25
			wantSubtotal: 131.25, // 105 + 26.25
		},
		{
			name:         "weekend",
			distanceKm:   10,
			opts:         PriceOptions{ScheduledTime: &saturdayNoon},
			surge:        1.0,
			wantTimeFee:  15.75,  // 105 * 0.15
			wantSubtotal: 120.75, // 105 + 15.75
		},
		{
			name:         "urgent night weekend compound",
			distanceKm:   10,
			opts:         PriceOptions{IsUrgent: true, ScheduledTime: &saturdayLate},
			surge:        1.0,
			wantTimeFee:  121.41, // 105 * (1.5*1.25*1.15 - 1) = 105 * 1.15625 = 121.40625
			wantSubtotal: 226.41, // 226.40625
		},
		{
			name:         "surge 1.5",
			distanceKm:   10,
			opts:         PriceOptions{ScheduledTime: &weekdayNoon},
			surge:        1.5,
			wantSurgeFee: 52.5,  // 105 * 0.5
			wantSubtotal: 157.5, // 105 + 52.5
		},
		{
			name:         "surge applies on top of time fee",
			distanceKm:   10,
			opts:         PriceOptions{IsUrgent: true, ScheduledTime: &weekdayNoon},
			surge:        1.25,
			wantTimeFee:  52.5,    // 105 * 0.5
			wantSurgeFee: 39.38,   // 157.5 * 0.25 = 39.375
			wantSubtotal: 196.88,  // 196.875
		},
		{
			name:         "clamped to min fee",
			distanceKm:   0.5,
			opts:         PriceOptions{ScheduledTime: &weekdayNoon},
			surge:        1.0,
			wantSubtotal: 35, // 25 + 4 = 29 -> 35
		},
		{
			name:         "clamped to max fee after surge",
			distanceKm:   20,
			opts:         PriceOptions{IsUrgent: true, ScheduledTime: &weekdayNoon},
			surge:        2.0,
			wantTimeFee:  92.5,  // 185 * 0.5
			wantSurgeFee: 277.5, // 277.5 * 1
			wantSubtotal: 250,   // 555 -> 250
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(&fakeOracle{surge: tt.surge})
			got := e.CalculatePrice(context.Background(), tt.distanceKm, tt.opts)

			if !approx(got.TimeFee, tt.wantTimeFee) {
				t.Errorf("TimeFee = %v, want %v", got.TimeFee, tt.wantTimeFee)
			}
			if !approx(got.SurgeFee, tt.wantSurgeFee) {
				t.Errorf("SurgeFee = %v, want %v", got.SurgeFee, tt.wantSurgeFee)
			}
			if !approx(got.Subtotal, tt.wantSubtotal) {
				t.Errorf("Subtotal = %v, want %v", got.Subtotal, tt.wantSubtotal)
			}
			if got.SurgeMultiplier != tt.surge {
				t.Errorf("SurgeMultiplier = %v, want %v", got.SurgeMultiplier, tt.surge)
			}
			if diff := math.Abs(got.PlatformFee + got.DriverEarnings - got.Subtotal); diff > 0.011 {
				t.Errorf("platform %v + driver %v != subtotal %v", got.PlatformFee, got.DriverEarnings, got.Subtotal)
			}
		})
	}
}

func TestEngine_CalculatePrice_ReferenceExample(t *testing.T) {
	e := newTestEngine(&fakeOracle{surge: 1.0})
	got := e.CalculatePrice(context.Background(), 10, PriceOptions{})

	want := PriceBreakdown{
		BaseFee:         25,
		DistanceFee:     80,
		TimeFee:         0,
		SurgeFee:        0,
		Subtotal:        105,
		PlatformFee:     15.75,
		DriverEarnings:  89.25,
		DistanceKm:      10,
		TimeMultiplier:  1,
		SurgeMultiplier: 1,
	}
	if got != want {
		t.Fatalf("CalculatePrice() =\n %+v\nwant\n %+v", got, want)
	}
}

func TestEngine_NightBoundaries(t *testing.T) {
	e := newTestEngine(nil)
	tests := []struct {
		hour, min int
		want      bool
	}{
		{19, 59, false},
		{20, 0, true},
		{23, 59, true},
		{0, 0, true},
		{5, 59, true},
		{6, 0, false},
		{12, 0, false},
	}
	for _, tt := range tests {
		at := time.Date(2026, 2, 10, tt.hour, tt.min, 0, 0, time.UTC)
		got := e.CalculatePrice(context.Background(), 10, PriceOptions{ScheduledTime: &at})
		if got.IsNight != tt.want {
			t.Errorf("%02d:%02d IsNight = %v, want %v", tt.hour, tt.min, got.IsNight, tt.want)
		}
	}
}

func TestEngine_OracleFailureFallsBackToOne(t *testing.T) {
	oracle := &fakeOracle{surge: 2.0, err: errors.New("store unavailable")}
	e := newTestEngine(oracle)

	got := e.CalculatePrice(context.Background(), 10, PriceOptions{})
	if got.SurgeMultiplier != 1 || got.Subtotal != 105 {
		t.Fatalf("expected surge-free price on oracle error, got %+v", got)
	}
	if oracle.calls.Load() != 1 {
		t.Fatalf("oracle calls = %d", oracle.calls.Load())
	}

	// nil oracle prices at 1.0 too
	if got := newTestEngine(nil).CalculatePrice(context.Background(), 10, PriceOptions{}); got.Subtotal != 105 {
		t.Fatalf("nil oracle subtotal = %v", got.Subtotal)
	}
}

func TestEngine_SurgeReadOnEveryCall(t *testing.T) {
	oracle := &fakeOracle{surge: 1.0}
	e := newTestEngine(oracle)
	for i := 0; i < 3; i++ {
		e.CalculatePrice(context.Background(), 5, PriceOptions{})
	}
	if n := oracle.calls.Load(); n != 3 {
		t.Fatalf("oracle consulted %d times, want 3", n)
	}
}

func TestEngine_SubtotalAlwaysClamped(t *testing.T) {
	e := newTestEngine(nil)
	times := []time.Time{weekdayNoon, weekdayLate, saturdayNoon, saturdayLate}
	for _, surge := range []float64{1, 1.25, 1.5, 2} {
		for _, urgent := range []bool{false, true} {
			for i := range times {
				for d := 0.0; d <= 200; d += 2.5 {
					got := e.CalculatePriceWithSurge(d, PriceOptions{IsUrgent: urgent, ScheduledTime: &times[i]}, surge)
					if got.Subtotal < 35 || got.Subtotal > 250 {
						t.Fatalf("subtotal %v out of bounds (d=%v surge=%v urgent=%v)", got.Subtotal, d, surge, urgent)
					}
				}
			}
		}
	}
}

func TestEngine_SurgeMonotonic(t *testing.T) {
	e := newTestEngine(nil)
	for d := 0.0; d <= 40; d += 1 {
		prev := 0.0
		for _, surge := range []float64{1, 1.25, 1.5, 2} {
			got := e.CalculatePriceWithSurge(d, PriceOptions{}, surge)
			if got.Subtotal < prev {
				t.Fatalf("subtotal decreased with surge at d=%v: %v < %v", d, got.Subtotal, prev)
			}
			prev = got.Subtotal
		}
	}
}

func TestEngine_EstimatePriceIsSurgeBlind(t *testing.T) {
	oracle := &fakeOracle{surge: 2.0}
	e := newTestEngine(oracle)

	tests := []struct {
		name     string
		distance float64
		urgent   bool
		want     float64
	}{
		{"plain", 10, false, 105},
		{"urgent", 10, true, 157.5}, // 105 * 1.5
		{"min clamp", 0.5, false, 35},
		{"max clamp", 100, false, 250},
		{"negative distance", -3, false, 35},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.EstimatePrice(tt.distance, tt.urgent); !approx(got, tt.want) {
				t.Errorf("EstimatePrice(%v, %v) = %v, want %v", tt.distance, tt.urgent, got, tt.want)
			}
		})
	}
	if oracle.calls.Load() != 0 {
		t.Fatalf("estimate must not consult the oracle, calls = %d", oracle.calls.Load())
	}
}

func TestEngine_UpdateConfig(t *testing.T) {
	e := newTestEngine(nil)
	cfg := e.UpdateConfig(func(c *config.PricingConfig) { c.BaseFee = 30 })
	if cfg.BaseFee != 30 || e.Config().BaseFee != 30 {
		t.Fatalf("config not updated: %+v", cfg)
	}
	if got := e.CalculatePrice(context.Background(), 10, PriceOptions{}); got.Subtotal != 110 {
		t.Fatalf("subtotal after update = %v, want 110", got.Subtotal)
	}
}

func TestEngine_QuoteJobDistanceResolution(t *testing.T) {
	pickup := job.Address{Line: "A", Lat: ptr(6.45), Lng: ptr(3.39)}
	dropoff := job.Address{Line: "B", Lat: ptr(6.50), Lng: ptr(3.39)}
	straight := geo.DistanceKm(types.Point{Lat: 6.45, Lng: 3.39}, types.Point{Lat: 6.50, Lng: 3.39})

	tests := []struct {
		name  string
		job   job.Job
		route RouteDistancer
		want  float64
	}{
		{"stored distance wins", job.Job{DistanceKm: ptr(12.0), Pickup: pickup, Delivery: dropoff}, fakeRoute{km: 7}, 12},
		{"driving route", job.Job{Pickup: pickup, Delivery: dropoff}, fakeRoute{km: 7}, 7},
		{"route error falls back to straight line", job.Job{Pickup: pickup, Delivery: dropoff}, fakeRoute{err: errors.New("quota")}, straight},
		{"no route service", job.Job{Pickup: pickup, Delivery: dropoff}, nil, straight},
		{"missing coordinates", job.Job{Pickup: job.Address{Line: "A"}, Delivery: dropoff}, fakeRoute{km: 7}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(config.DefaultPricing(), nil, tt.route, nil)
			e.now = func() time.Time { return weekdayNoon }
			got := e.QuoteJob(context.Background(), tt.job, PriceOptions{})
			if !approx(got.DistanceKm, tt.want) {
				t.Fatalf("distance = %v, want %v", got.DistanceKm, tt.want)
			}
		})
	}
}
