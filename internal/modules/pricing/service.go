// README: Pricing engine: base + distance, time multipliers, live surge, clamp, revenue split.
package pricing

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/geo"
	"dispatch/internal/modules/job"
	"dispatch/internal/observability"
	"dispatch/internal/types"
)

// Engine owns its pricing config. UpdateConfig is the only writer; each
// calculation works on a snapshot taken at its start.
type Engine struct {
	mu     sync.RWMutex
	cfg    config.PricingConfig
	surge  SurgeOracle
	route  RouteDistancer
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine builds an engine. surge and route may be nil: a nil oracle prices
// at 1.0 and a nil route falls back to straight-line distance.
func NewEngine(cfg config.PricingConfig, surge SurgeOracle, route RouteDistancer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, surge: surge, route: route, logger: logger, now: time.Now}
}

func (e *Engine) Config() config.PricingConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func (e *Engine) UpdateConfig(fn func(*config.PricingConfig)) config.PricingConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.cfg)
	return e.cfg
}

// CalculatePrice prices a delivery using the live surge multiplier. An oracle
// failure prices at 1.0.
func (e *Engine) CalculatePrice(ctx context.Context, distanceKm float64, opts PriceOptions) PriceBreakdown {
	surge := 1.0
	if e.surge != nil {
		m, err := e.surge.SurgeMultiplier(ctx)
		if err != nil {
			e.logger.Warn("surge unavailable, pricing at 1.0", "error", err)
		} else {
			surge = m
		}
	}
	observability.PricesQuotedTotal.WithLabelValues("calculate").Inc()
	return e.CalculatePriceWithSurge(distanceKm, opts, surge)
}

// CalculatePriceWithSurge prices against a caller-held surge snapshot so a
// batch of quotes can share one multiplier.
func (e *Engine) CalculatePriceWithSurge(distanceKm float64, opts PriceOptions, surge float64) PriceBreakdown {
	cfg := e.Config()
	if distanceKm < 0 || math.IsNaN(distanceKm) {
		distanceKm = 0
	}
	if surge < 1 || math.IsNaN(surge) {
		surge = 1
	}

	at := e.now()
	if opts.ScheduledTime != nil {
		at = *opts.ScheduledTime
	}
	night := isNight(cfg, at.Hour())
	weekend := isWeekend(at.Weekday())

	timeMult := 1.0
	if opts.IsUrgent {
		timeMult *= cfg.UrgentMultiplier
	}
	if night {
		timeMult *= cfg.NightMultiplier
	}
	if weekend {
		timeMult *= cfg.WeekendMultiplier
	}

	base := cfg.BaseFee
	distanceFee := distanceKm * cfg.PerKmRate
	timeFee := (base + distanceFee) * (timeMult - 1)
	surgeFee := (base + distanceFee + timeFee) * (surge - 1)
	subtotal := clamp(base+distanceFee+timeFee+surgeFee, cfg.MinFee, cfg.MaxFee)

	return PriceBreakdown{
		BaseFee:         types.RoundMoney(base),
		DistanceFee:     types.RoundMoney(distanceFee),
		TimeFee:         types.RoundMoney(timeFee),
		SurgeFee:        types.RoundMoney(surgeFee),
		Subtotal:        types.RoundMoney(subtotal),
		PlatformFee:     types.RoundMoney(subtotal * cfg.PlatformFeeRate),
		DriverEarnings:  types.RoundMoney(subtotal * (1 - cfg.PlatformFeeRate)),
		DistanceKm:      distanceKm,
		TimeMultiplier:  timeMult,
		SurgeMultiplier: surge,
		IsUrgent:        opts.IsUrgent,
		IsNight:         night,
		IsWeekend:       weekend,
	}
}

// EstimatePrice is a surge-blind preview for UI display. It never consults the
// oracle and must not be used for settlement.
func (e *Engine) EstimatePrice(distanceKm float64, isUrgent bool) float64 {
	cfg := e.Config()
	if distanceKm < 0 || math.IsNaN(distanceKm) {
		distanceKm = 0
	}
	v := cfg.BaseFee + distanceKm*cfg.PerKmRate
	if isUrgent {
		v *= cfg.UrgentMultiplier
	}
	observability.PricesQuotedTotal.WithLabelValues("estimate").Inc()
	return types.RoundMoney(clamp(v, cfg.MinFee, cfg.MaxFee))
}

// QuoteJob prices a job using the best distance available: the stored route
// distance, then a driving route, then straight-line, then zero.
func (e *Engine) QuoteJob(ctx context.Context, j job.Job, opts PriceOptions) PriceBreakdown {
	return e.CalculatePrice(ctx, e.ResolveDistanceKm(ctx, j), opts)
}

func (e *Engine) ResolveDistanceKm(ctx context.Context, j job.Job) float64 {
	if j.DistanceKm != nil {
		return *j.DistanceKm
	}
	from, okFrom := j.Pickup.Point()
	to, okTo := j.Delivery.Point()
	if !okFrom || !okTo {
		return 0
	}
	if e.route != nil {
		km, err := e.route.DrivingDistanceKm(ctx, from, to)
		if err == nil {
			return km
		}
		e.logger.Warn("route distance failed, using straight line", "job_id", j.ID, "error", err)
	}
	return geo.DistanceKm(from, to)
}

func isNight(cfg config.PricingConfig, hour int) bool {
	if cfg.NightStartHour > cfg.NightEndHour {
		return hour >= cfg.NightStartHour || hour < cfg.NightEndHour
	}
	return hour >= cfg.NightStartHour && hour < cfg.NightEndHour
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
