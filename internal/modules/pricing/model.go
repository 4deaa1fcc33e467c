// README: Price request options and the itemised breakdown returned to callers.
package pricing

import (
	"context"
	"time"

	"dispatch/internal/types"
)

// SurgeOracle reports the current demand multiplier. It is consulted on every
// CalculatePrice call and never cached.
type SurgeOracle interface {
	SurgeMultiplier(ctx context.Context) (float64, error)
}

// RouteDistancer resolves driving distance between two points.
type RouteDistancer interface {
	DrivingDistanceKm(ctx context.Context, from, to types.Point) (float64, error)
}

type PriceOptions struct {
	IsUrgent      bool       `json:"is_urgent"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
}

// PriceBreakdown is an immutable per-request value. All money fields are
// rounded to 2 decimals; Subtotal = PlatformFee + DriverEarnings up to rounding.
type PriceBreakdown struct {
	BaseFee         float64 `json:"base_fee"`
	DistanceFee     float64 `json:"distance_fee"`
	TimeFee         float64 `json:"time_fee"`
	SurgeFee        float64 `json:"surge_fee"`
	Subtotal        float64 `json:"subtotal"`
	PlatformFee     float64 `json:"platform_fee"`
	DriverEarnings  float64 `json:"driver_earnings"`
	DistanceKm      float64 `json:"distance_km"`
	TimeMultiplier  float64 `json:"time_multiplier"`
	SurgeMultiplier float64 `json:"surge_multiplier"`
	IsUrgent        bool    `json:"is_urgent"`
	IsNight         bool    `json:"is_night"`
	IsWeekend       bool    `json:"is_weekend"`
}
