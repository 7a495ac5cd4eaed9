// Package jobs exposes runs over HTTP: POST a config to start one,
// poll its status, fetch its output collection.
package jobs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veridia/adscan/config"
	"github.com/veridia/adscan/engine"
	"github.com/veridia/adscan/idgen"
	"github.com/veridia/adscan/results"
)

// Job states.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const maxConfigBody = 1 << 20

// Runner executes one run for a parsed config.
type Runner func(ctx context.Context, cfg *config.Config) (*engine.Report, error)

// ResultsLoader reads the output collection a finished run wrote.
type ResultsLoader func(cfg *config.Config) ([]results.Record, error)

// Job is the tracked state of one submitted run.
type Job struct {
	ID           string     `json:"job_id"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        string     `json:"error,omitempty"`
	Completed    int        `json:"completed_tasks"`
	Skipped      int        `json:"skipped_tasks"`
	Items        int        `json:"items"`
	TaskFailures int        `json:"task_failures"`

	cfg *config.Config
}

// Options wires a Registry's collaborators. Runner is required; the
// rest default.
type Options struct {
	Runner  Runner
	Results ResultsLoader
	Log     *slog.Logger
}

// Registry tracks submitted jobs and serves the API. One job runs at a
// time; submissions during a run are rejected.
type Registry struct {
	runner  Runner
	load    ResultsLoader
	newID   func() string
	log     *slog.Logger
	baseCtx context.Context

	mu      sync.Mutex
	jobs    map[string]*Job
	running bool
}

// NewRegistry returns a Registry whose jobs run under ctx.
func NewRegistry(ctx context.Context, opts Options) *Registry {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	load := opts.Results
	if load == nil {
		load = func(cfg *config.Config) ([]results.Record, error) {
			sink, err := results.New(cfg.OutputDir, true, log)
			if err != nil {
				return nil, err
			}
			return sink.Read(cfg.OutputID)
		}
	}
	return &Registry{
		runner:  opts.Runner,
		load:    load,
		newID:   idgen.Prefixed("job_", idgen.Default),
		log:     log,
		baseCtx: ctx,
		jobs:    make(map[string]*Job),
	}
}

// Router returns the HTTP surface.
func (g *Registry) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/jobs", g.handleCreate)
	r.Get("/jobs/{id}", g.handleStatus)
	r.Get("/results/{id}", g.handleResults)
	return r
}

func (g *Registry) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	cfg, err := config.Parse(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// The collection address must stay stable for GET /results, so API
	// runs always append.
	t := true
	cfg.AppendResults = &t

	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		http.Error(w, "a job is already running", http.StatusConflict)
		return
	}
	job := &Job{
		ID:        g.newID(),
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
		cfg:       cfg,
	}
	g.jobs[job.ID] = job
	g.running = true
	g.mu.Unlock()

	g.log.Info("jobs: started", "job_id", job.ID, "mode", cfg.Mode, "pairs", len(cfg.Pairs))
	go g.run(job)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// run executes the job and folds the outcome back into the registry.
func (g *Registry) run(job *Job) {
	report, err := g.runner(g.baseCtx, job.cfg)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.running = false
	now := time.Now().UTC()
	job.CompletedAt = &now
	if report != nil {
		job.Completed = report.Completed
		job.Skipped = report.Skipped
		job.Items = report.Items
		job.TaskFailures = len(report.Failures)
	}
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		g.log.Warn("jobs: failed", "job_id", job.ID, "error", err)
		return
	}
	job.Status = StatusCompleted
	g.log.Info("jobs: completed",
		"job_id", job.ID, "tasks", job.Completed, "items", job.Items,
		"task_failures", job.TaskFailures)
}

func (g *Registry) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := g.snapshot(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (g *Registry) handleResults(w http.ResponseWriter, r *http.Request) {
	job, ok := g.snapshot(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}
	if job.Status == StatusRunning {
		http.Error(w, "job still running", http.StatusConflict)
		return
	}
	records, err := g.load(job.cfg)
	if err != nil {
		g.log.Error("jobs: load results", "job_id", job.ID, "error", err)
		http.Error(w, "results unavailable", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []results.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// snapshot returns a copy of the job so handlers encode without holding
// the lock.
func (g *Registry) snapshot(id string) (Job, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	job, ok := g.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
