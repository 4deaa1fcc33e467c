// README: Benchmark cases: environment checks, seeding, the claim race, consistency checks and nearby-ranking latency.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/infra"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

var pickup = struct{ Lat, Lng float64 }{25.0340, 121.5645}

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	jobID   string
	drivers []string
	winner  string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := infra.NewDB(ctx, r.cfg.DSN); err == nil {
			r.db = db
		} else {
			fmt.Printf("db unavailable: %v\n", err)
		}
	}
	if r.cfg.RedisAddr != "" {
		if rc, err := infra.NewRedis(ctx, r.cfg.RedisAddr); err == nil {
			r.redis = rc
		} else {
			fmt.Printf("redis unavailable: %v\n", err)
		}
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: checkPostgres},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "Migration: apply (optional)", Run: applyMigrations},
		{Name: "API: health", Run: checkHealth},
		{Name: "Seed: job and drivers", Run: seed},
		{Name: "Claim: concurrent claims yield one winner", Run: claimRace},
		{Name: "Claim: late claim is rejected", Run: lateClaim},
		{Name: "Consistency: job row and events", Run: checkConsistency},
		{Name: "Perf: nearby job ranking", Run: perfNearby},
	}
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: statusSkip, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func applyMigrations(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: statusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	if err := infra.ApplyMigrations(ctx, r.db, r.cfg.MigrationsDir); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func checkHealth(ctx context.Context, r *Runner) Result {
	start := time.Now()
	code, _, err := r.call(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if code != http.StatusOK {
		return Result{Status: statusFail, Note: fmt.Sprintf("status=%d", code)}
	}
	return Result{Status: statusPass, Latency: time.Since(start)}
}

// seed inserts one pending job and cfg.Claimers available drivers near it.
func seed(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	defer tx.Rollback(ctx)

	drivers := make([]string, 0, r.cfg.Claimers)
	for i := 0; i < r.cfg.Claimers; i++ {
		id := uuid.NewString()
		_, err := tx.Exec(ctx, `
			INSERT INTO drivers (id, name, status, location_lat, location_lng, location_at)
			VALUES ($1, $2, 'available', $3, $4, NOW())`,
			id, fmt.Sprintf("bench driver %d", i), pickup.Lat+float64(i)*0.0005, pickup.Lng,
		)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		drivers = append(drivers, id)
	}

	jobID := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO delivery_jobs (id, pickup_address, pickup_lat, pickup_lng, delivery_address, delivery_lat, delivery_lng, earnings, status)
		VALUES ($1, 'bench pickup', $2, $3, 'bench drop', 25.0478, 121.5170, 80, 'pending')`,
		jobID, pickup.Lat, pickup.Lng,
	)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}

	r.jobID = jobID
	r.drivers = drivers
	return Result{Status: statusPass, Note: fmt.Sprintf("job=%s drivers=%d", jobID, len(drivers))}
}

func claimRace(ctx context.Context, r *Runner) Result {
	if r.jobID == "" {
		return Result{Status: statusSkip, Note: "nothing seeded"}
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		start   = make(chan struct{})
		winners []string
		codes   = map[int]int{}
	)
	for _, d := range r.drivers {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			<-start
			code, _, err := r.call(ctx, http.MethodPost, "/api/jobs/"+r.jobID+"/claim", map[string]string{"driver_id": driverID})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				codes[0]++
				return
			}
			codes[code]++
			if code == http.StatusOK {
				winners = append(winners, driverID)
			}
		}(d)
	}
	began := time.Now()
	close(start)
	wg.Wait()
	elapsed := time.Since(began)

	note := fmt.Sprintf("winners=%d codes=%v", len(winners), codes)
	if len(winners) != 1 || codes[http.StatusConflict] != len(r.drivers)-1 {
		return Result{Status: statusFail, Latency: elapsed, Note: note}
	}
	r.winner = winners[0]
	return Result{Status: statusPass, Latency: elapsed, Note: note}
}

func lateClaim(ctx context.Context, r *Runner) Result {
	if r.winner == "" {
		return Result{Status: statusSkip, Note: "no winner"}
	}
	loser := r.drivers[0]
	if loser == r.winner {
		loser = r.drivers[len(r.drivers)-1]
	}
	code, body, err := r.call(ctx, http.MethodPost, "/api/jobs/"+r.jobID+"/claim", map[string]string{"driver_id": loser})
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if code != http.StatusConflict {
		return Result{Status: statusFail, Note: fmt.Sprintf("status=%d body=%s", code, body)}
	}
	return Result{Status: statusPass}
}

func checkConsistency(ctx context.Context, r *Runner) Result {
	if r.db == nil || r.winner == "" {
		return Result{Status: statusSkip, Note: "no claim to verify"}
	}
	var (
		status   string
		driverID *string
		events   int
	)
	err := r.db.QueryRow(ctx, `SELECT status, driver_id FROM delivery_jobs WHERE id = $1`, r.jobID).Scan(&status, &driverID)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if status != "accepted" || driverID == nil || *driverID != r.winner {
		return Result{Status: statusFail, Note: fmt.Sprintf("status=%s driver=%v winner=%s", status, driverID, r.winner)}
	}
	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM job_state_events
		WHERE job_id = $1 AND from_status = 'pending' AND to_status = 'accepted'`, r.jobID).Scan(&events)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if events != 1 {
		return Result{Status: statusFail, Note: fmt.Sprintf("accepted events=%d", events)}
	}
	return Result{Status: statusPass}
}

func perfNearby(ctx context.Context, r *Runner) Result {
	driverID := "bench"
	if len(r.drivers) > 0 {
		driverID = r.drivers[0]
	}
	path := fmt.Sprintf("/api/drivers/%s/jobs?lat=%f&lng=%f&max_km=10", driverID, pickup.Lat, pickup.Lng)
	end := time.Now().Add(r.cfg.Duration)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		latencies []time.Duration
		errCount  int
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				start := time.Now()
				code, _, err := r.call(ctx, http.MethodGet, path, nil)
				d := time.Since(start)
				mu.Lock()
				if err != nil || code != http.StatusOK {
					errCount++
				} else {
					latencies = append(latencies, d)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(latencies) == 0 {
		return Result{Status: statusFail, Note: fmt.Sprintf("no successful requests, errors=%d", errCount)}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	rps := float64(len(latencies)) / r.cfg.Duration.Seconds()
	return Result{
		Status:  statusPass,
		Latency: percentile(latencies, 0.5),
		Note:    fmt.Sprintf("rps=%.1f p95=%s errors=%d", rps, percentile(latencies, 0.95), errCount),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func (r *Runner) call(ctx context.Context, method, path string, body any) (int, string, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, "", err
		}
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(b), nil
}
