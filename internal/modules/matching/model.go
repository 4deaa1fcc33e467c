// README: Match results, load snapshot and the scoring constants for ranking open jobs.
package matching

import (
	"time"

	"dispatch/internal/modules/job"
)

// MatchResult is derived per ranking and never cached.
type MatchResult struct {
	Job               job.Job `json:"job"`
	DistanceToPickup  float64 `json:"distance_to_pickup"`
	EstimatedTimeMins int     `json:"estimated_time_mins"`
	PriorityScore     float64 `json:"priority_score"`
	SurgeMultiplier   float64 `json:"surge_multiplier"`
}

type LoadBalanceInfo struct {
	AvailableDrivers int     `json:"available_drivers"`
	PendingJobs      int     `json:"pending_jobs"`
	AvgJobsPerDriver float64 `json:"avg_jobs_per_driver"`
}

const (
	// fallbackDistanceKm / fallbackETAMins are used when a pickup has no coordinates.
	fallbackDistanceKm = 5.0
	fallbackETAMins    = 15
	// minutesPerKm is the urban travel heuristic for pickup ETA.
	minutesPerKm = 3.0

	basePriority       = 100.0
	distancePenaltyKm  = 3.0
	earningsDivisor    = 10.0
	maxAgeBonusMinutes = 30.0
)

// Surge tiers on pending jobs per available driver.
var surgeTiers = []struct {
	minRatio   float64
	multiplier float64
}{
	{5, 2.0},
	{3, 1.5},
	{2, 1.25},
}

const defaultLoadReportInterval = 15 * time.Second
