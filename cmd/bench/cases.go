// README: Live checks for health, schema, location dedup, and the distress ticket workflow.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"fleetwatch/internal/infra"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"

	benchVehicle = "bench_vehicle"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// ticketID is the ticket opened by the workflow checks.
	ticketID string
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
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
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
		{Name: "Migration: tables exist", Run: checkTables},
		{Name: "Seed: bench vehicle", Run: seedVehicle},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/health", nil, false, http.StatusOK)
		}},
		{Name: "API: unauthenticated -> 401", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/api/zones", nil, false, http.StatusUnauthorized)
		}},
		{Name: "Zones: classify Vegas Shop", Run: classifyVegasShop},
		{Name: "Location: anchor sample", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPut, "/api/vehicles/"+benchVehicle+"/location",
				map[string]any{"lat": 36.2777, "lng": -115.0205}, true, http.StatusCreated, http.StatusOK)
		}},
		{Name: "Location: jitter -> not_modified", Run: locationJitter},
		{Name: "Location: invalid coords -> 400", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPut, "/api/vehicles/"+benchVehicle+"/location",
				map[string]any{"lat": 123.0, "lng": 456.0}, true, http.StatusBadRequest)
		}},
		{Name: "Distress: open", Run: openTicket},
		{Name: "Concurrency: claim same ticket", Run: concurrentClaim},
		{Name: "Distress: close claimed", Run: func(ctx context.Context, r *Runner) Result {
			if r.ticketID == "" {
				return Result{Status: StatusSkip, Note: "no ticket"}
			}
			return r.expect(ctx, http.MethodPost, "/api/distress/"+r.ticketID+"/close",
				map[string]any{"notes": "bench"}, true, http.StatusOK)
		}},
		{Name: "Distress: claim closed -> 409", Run: func(ctx context.Context, r *Runner) Result {
			if r.ticketID == "" {
				return Result{Status: StatusSkip, Note: "no ticket"}
			}
			return r.expect(ctx, http.MethodPost, "/api/distress/"+r.ticketID+"/claim", nil, true, http.StatusConflict)
		}},
		{Name: "Consistency: audit trail", Run: checkAuditTrail},
		{Name: "Perf: location update throughput", Run: perfLocation},
	}
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusFail, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func applyMigrations(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: StatusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	if err := infra.ApplyMigrations(ctx, r.db, r.cfg.MigrationPath); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: StatusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("%d tables", len(tables))}
}

func seedVehicle(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	_, err := r.db.Exec(ctx, `INSERT INTO vehicles (id, name) VALUES ($1, 'Bench Van') ON CONFLICT (id) DO NOTHING`, benchVehicle)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func classifyVegasShop(ctx context.Context, r *Runner) Result {
	var body struct {
		Zone string `json:"zone"`
	}
	res, status := r.call(ctx, http.MethodGet, "/api/zones/classify?lat=36.2777&lon=-115.0205", nil, &body)
	if res != nil {
		return *res
	}
	if status != http.StatusOK || body.Zone != "Vegas Shop" {
		return Result{Status: StatusFail, Note: fmt.Sprintf("status=%d zone=%q", status, body.Zone)}
	}
	return Result{Status: StatusPass}
}

// locationJitter moves the bench vehicle about 11 m.
func locationJitter(ctx context.Context, r *Runner) Result {
	var body struct {
		Status string `json:"status"`
	}
	res, status := r.call(ctx, http.MethodPut, "/api/vehicles/"+benchVehicle+"/location",
		map[string]any{"lat": 36.2778, "lng": -115.0205}, &body)
	if res != nil {
		return *res
	}
	if status != http.StatusOK || body.Status != "not_modified" {
		return Result{Status: StatusFail, Note: fmt.Sprintf("status=%d body=%q", status, body.Status)}
	}
	return Result{Status: StatusPass}
}

func openTicket(ctx context.Context, r *Runner) Result {
	var body struct {
		ID     string `json:"id"`
		Zone   string `json:"zone"`
		Number int    `json:"number"`
	}
	res, status := r.call(ctx, http.MethodPost, "/api/distress", map[string]any{
		"vehicle_id":    benchVehicle,
		"customer_name": "Bench",
		"phone":         "000-000-0000",
		"notes":         "live check",
	}, &body)
	if res != nil {
		return *res
	}
	if status != http.StatusCreated {
		return Result{Status: StatusFail, Note: fmt.Sprintf("status=%d", status)}
	}
	r.ticketID = body.ID
	return Result{Status: StatusPass, Note: fmt.Sprintf("zone=%s number=%d", body.Zone, body.Number)}
}

func concurrentClaim(ctx context.Context, r *Runner) Result {
	if r.ticketID == "" {
		return Result{Status: StatusSkip, Note: "no ticket"}
	}
	var succ, conflicts atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, status := r.call(ctx, http.MethodPost, "/api/distress/"+r.ticketID+"/claim", nil, nil)
			switch status {
			case http.StatusOK:
				succ.Add(1)
			case http.StatusConflict:
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d", succ.Load(), conflicts.Load())
	if succ.Load() != 1 {
		return Result{Status: StatusFail, Note: note}
	}
	return Result{Status: StatusPass, Note: note}
}

func checkAuditTrail(ctx context.Context, r *Runner) Result {
	if r.db == nil || r.ticketID == "" {
		return Result{Status: StatusSkip, Note: "db or ticket missing"}
	}
	var events, version int
	err := r.db.QueryRow(ctx, `
		SELECT (SELECT count(*) FROM distress_ticket_events WHERE ticket_id = $1), status_version
		FROM distress_tickets WHERE id = $1`, r.ticketID,
	).Scan(&events, &version)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	// one event per transition plus the opening event
	if events != version+1 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("events=%d status_version=%d", events, version)}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("events=%d", events)}
}

func perfLocation(ctx context.Context, r *Runner) Result {
	if r.cfg.Token == "" {
		return Result{Status: StatusSkip, Note: "no token"}
	}
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; time.Now().Before(end); n++ {
				// alternate between two points ~1 km apart so every write passes dedup
				lat := 36.2777
				if (n+i)%2 == 1 {
					lat = 36.2867
				}
				_, status := r.call(ctx, http.MethodPut, "/api/vehicles/"+benchVehicle+"/location",
					map[string]any{"lat": lat, "lng": -115.0205}, nil)
				if status == 0 || status >= 500 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

// expect passes when the response status is one of ok.
func (r *Runner) expect(ctx context.Context, method, path string, body any, auth bool, ok ...int) Result {
	if auth && r.cfg.Token == "" {
		return Result{Status: StatusSkip, Note: "no token"}
	}
	start := time.Now()
	res, status := r.do(ctx, method, path, body, auth, nil)
	if res != nil {
		return *res
	}
	latency := time.Since(start)
	for _, s := range ok {
		if s == status {
			return Result{Status: StatusPass, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
		}
	}
	return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
}

// call performs an authenticated request, decoding the body into out when non-nil.
func (r *Runner) call(ctx context.Context, method, path string, body, out any) (*Result, int) {
	if r.cfg.Token == "" {
		return &Result{Status: StatusSkip, Note: "no token"}, 0
	}
	return r.do(ctx, method, path, body, true, out)
}

func (r *Runner) do(ctx context.Context, method, path string, body any, auth bool, out any) (*Result, int) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return &Result{Status: StatusFail, Note: err.Error()}, 0
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return &Result{Status: StatusFail, Note: err.Error()}, 0
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil, resp.StatusCode
}

func extractTables(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	var tables []string
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		for _, m := range re.FindAllStringSubmatch(string(b), -1) {
			tables = append(tables, m[1])
		}
	}
	return tables, nil
}
