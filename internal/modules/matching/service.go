// README: Matching service ranks open jobs for a driver, computes surge and arbitrates claims.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/geo"
	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/job"
	"dispatch/internal/observability"
	"dispatch/internal/types"
)

var (
	ErrJobAlreadyClaimed = errors.New("job already claimed by another driver")
	ErrDriverIneligible  = errors.New("driver is not eligible to claim jobs")
	ErrLocationUnknown   = errors.New("driver location unknown")
	ErrBadRequest        = errors.New("bad request")
)

type JobStore interface {
	Get(ctx context.Context, id types.ID) (*job.Job, error)
	ListOpen(ctx context.Context) ([]job.Job, error)
	CountByStatus(ctx context.Context, status job.Status) (int, error)
	Claim(ctx context.Context, id, driverID types.ID) (bool, error)
	AppendEvent(ctx context.Context, e *job.Event) error
}

type DriverStore interface {
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
	CountByStatus(ctx context.Context, status driver.Status) (int, error)
}

// PositionIndex is the live driver position index maintained by tracking.
type PositionIndex interface {
	Position(ctx context.Context, driverID types.ID) (types.Point, bool, error)
}

type JobPublisher interface {
	PublishUpdate(ctx context.Context, j *job.Job)
}

type Service struct {
	jobs      JobStore
	drivers   DriverStore
	positions PositionIndex
	updates   JobPublisher
	cfg       config.MatchingConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the matching engine. positions and updates are optional.
func NewService(jobs JobStore, drivers DriverStore, positions PositionIndex, updates JobPublisher, cfg config.MatchingConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jobs:      jobs,
		drivers:   drivers,
		positions: positions,
		updates:   updates,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// DefaultRadiusKm is the search radius for callers that do not pass one.
func (s *Service) DefaultRadiusKm() float64 {
	return s.cfg.RadiusKm
}

// FindNearbyJobs ranks open jobs within maxDistanceKm of the driver, highest
// priority first. Surge is computed once per call.
func (s *Service) FindNearbyJobs(ctx context.Context, loc types.Point, maxDistanceKm float64) ([]MatchResult, error) {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	open, err := s.jobs.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open jobs: %w", err)
	}

	surge, err := s.CalculateSurgeMultiplier(ctx)
	if err != nil {
		s.logger.Warn("surge unavailable, ranking at 1.0", "error", err)
	}

	now := s.now()
	results := make([]MatchResult, 0, len(open))
	for _, j := range open {
		dist, eta := pickupDistance(loc, j)
		if dist > maxDistanceKm {
			continue
		}
		results = append(results, MatchResult{
			Job:               j,
			DistanceToPickup:  dist,
			EstimatedTimeMins: eta,
			PriorityScore:     CalculatePriority(j, dist, surge, now),
			SurgeMultiplier:   surge,
		})
	}

	sort.Slice(results, func(a, b int) bool {
		ra, rb := results[a], results[b]
		if ra.PriorityScore != rb.PriorityScore {
			return ra.PriorityScore > rb.PriorityScore
		}
		if ra.DistanceToPickup != rb.DistanceToPickup {
			return ra.DistanceToPickup < rb.DistanceToPickup
		}
		return ra.Job.ID < rb.Job.ID
	})
	return results, nil
}

// FindNearbyJobsForDriver resolves the driver's position from the live index,
// falling back to the persisted record.
func (s *Service) FindNearbyJobsForDriver(ctx context.Context, driverID types.ID, maxDistanceKm float64) ([]MatchResult, error) {
	loc, err := s.driverPosition(ctx, driverID)
	if err != nil {
		return nil, err
	}
	return s.FindNearbyJobs(ctx, loc, maxDistanceKm)
}

func (s *Service) driverPosition(ctx context.Context, driverID types.ID) (types.Point, error) {
	if s.positions != nil {
		p, ok, err := s.positions.Position(ctx, driverID)
		if err != nil {
			s.logger.Warn("position index lookup failed", "driver_id", driverID, "error", err)
		} else if ok {
			return p, nil
		}
	}
	d, err := s.drivers.Get(ctx, driverID)
	if err != nil {
		return types.Point{}, err
	}
	if d.CurrentLocation == nil {
		return types.Point{}, ErrLocationUnknown
	}
	return d.CurrentLocation.Point(), nil
}

// pickupDistance returns straight-line distance and ETA to the pickup, or the
// fixed fallback when the pickup has no coordinates.
func pickupDistance(from types.Point, j job.Job) (float64, int) {
	p, ok := j.Pickup.Point()
	if !ok {
		return fallbackDistanceKm, fallbackETAMins
	}
	d := geo.DistanceKm(from, p)
	return d, int(math.Round(d * minutesPerKm))
}

// CalculatePriority scores a job for a driver: closer, better paid and older
// jobs rank higher, scaled by surge. Never negative.
func CalculatePriority(j job.Job, distanceKm, surge float64, now time.Time) float64 {
	earnings := 0.0
	if j.Earnings != nil {
		earnings = *j.Earnings
	}
	age := now.Sub(j.CreatedAt).Minutes()
	age = math.Max(0, math.Min(age, maxAgeBonusMinutes))

	score := (basePriority - distanceKm*distancePenaltyKm + earnings/earningsDivisor + age) * surge
	return math.Max(0, score)
}

// SurgeForRatio maps pending jobs per available driver to a multiplier.
func SurgeForRatio(ratio float64) float64 {
	for _, t := range surgeTiers {
		if ratio >= t.minRatio {
			return t.multiplier
		}
	}
	return 1.0
}

// CalculateSurgeMultiplier reads live counts; on a store error it returns 1.0
// together with the error.
func (s *Service) CalculateSurgeMultiplier(ctx context.Context) (float64, error) {
	info, err := s.GetLoadBalanceInfo(ctx)
	if err != nil {
		return 1.0, err
	}
	m := SurgeForRatio(float64(info.PendingJobs) / math.Max(float64(info.AvailableDrivers), 1))
	observability.SurgeMultiplier.Set(m)
	return m, nil
}

// SurgeMultiplier satisfies pricing.SurgeOracle.
func (s *Service) SurgeMultiplier(ctx context.Context) (float64, error) {
	return s.CalculateSurgeMultiplier(ctx)
}

// ClaimJob assigns the job to the driver. Eligibility is checked here, and the
// assignment itself is a single conditional write: exactly one concurrent
// caller wins, the rest get ErrJobAlreadyClaimed.
func (s *Service) ClaimJob(ctx context.Context, jobID, driverID types.ID) (*job.Job, error) {
	if jobID == "" || driverID == "" {
		return nil, ErrBadRequest
	}
	if s.cfg.ClaimTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ClaimTimeout)
		defer cancel()
	}

	d, err := s.drivers.Get(ctx, driverID)
	if err != nil {
		observability.ClaimsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if !d.Eligible() {
		observability.ClaimsTotal.WithLabelValues("ineligible").Inc()
		return nil, ErrDriverIneligible
	}

	ok, err := s.jobs.Claim(ctx, jobID, driverID)
	if err != nil {
		observability.ClaimsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !ok {
		if _, gerr := s.jobs.Get(ctx, jobID); errors.Is(gerr, job.ErrNotFound) {
			observability.ClaimsTotal.WithLabelValues("not_found").Inc()
			return nil, job.ErrNotFound
		}
		observability.ClaimsTotal.WithLabelValues("already_claimed").Inc()
		return nil, ErrJobAlreadyClaimed
	}
	observability.ClaimsTotal.WithLabelValues("won").Inc()

	actor := driverID
	if err := s.jobs.AppendEvent(ctx, &job.Event{
		JobID:      jobID,
		FromStatus: job.StatusPending,
		ToStatus:   job.StatusAccepted,
		ActorID:    &actor,
		CreatedAt:  s.now(),
	}); err != nil {
		s.logger.Warn("append claim event failed", "job_id", jobID, "error", err)
	}

	claimed, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		s.logger.Warn("reload claimed job failed", "job_id", jobID, "error", err)
		claimed = &job.Job{ID: jobID, Status: job.StatusAccepted, DriverID: &actor}
	}
	if s.updates != nil {
		s.updates.PublishUpdate(ctx, claimed)
	}
	s.logger.Info("job claimed", "job_id", jobID, "driver_id", driverID)
	return claimed, nil
}

// GetLoadBalanceInfo is a read-only snapshot of supply and demand.
func (s *Service) GetLoadBalanceInfo(ctx context.Context) (LoadBalanceInfo, error) {
	available, err := s.drivers.CountByStatus(ctx, driver.StatusAvailable)
	if err != nil {
		return LoadBalanceInfo{}, fmt.Errorf("count available drivers: %w", err)
	}
	pending, err := s.jobs.CountByStatus(ctx, job.StatusPending)
	if err != nil {
		return LoadBalanceInfo{}, fmt.Errorf("count pending jobs: %w", err)
	}
	return LoadBalanceInfo{
		AvailableDrivers: available,
		PendingJobs:      pending,
		AvgJobsPerDriver: float64(pending) / math.Max(float64(available), 1),
	}, nil
}

// RunLoadReporter exports load and surge gauges until ctx is cancelled.
func (s *Service) RunLoadReporter(ctx context.Context) {
	interval := time.Duration(s.cfg.LoadReportSeconds) * time.Second
	if interval <= 0 {
		interval = defaultLoadReportInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.reportLoad(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reportLoad(ctx)
		}
	}
}

func (s *Service) reportLoad(ctx context.Context) {
	info, err := s.GetLoadBalanceInfo(ctx)
	if err != nil {
		s.logger.Warn("load report failed", "error", err)
		return
	}
	surge := SurgeForRatio(info.AvgJobsPerDriver)
	observability.PendingJobs.Set(float64(info.PendingJobs))
	observability.AvailableDrivers.Set(float64(info.AvailableDrivers))
	observability.SurgeMultiplier.Set(surge)
	s.logger.Debug("load report",
		"available_drivers", info.AvailableDrivers,
		"pending_jobs", info.PendingJobs,
		"surge", surge,
	)
}
