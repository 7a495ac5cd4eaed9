// Package engine orchestrates a run: it walks the pending task keys,
// drives a browser session through region and query selection, compiles
// the filter URL, runs the extraction loop and persists the results,
// checkpointing after every task.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/veridia/adscan/audit"
	"github.com/veridia/adscan/checkpoint"
	"github.com/veridia/adscan/config"
	"github.com/veridia/adscan/driver"
	"github.com/veridia/adscan/extract"
	"github.com/veridia/adscan/filterspec"
	"github.com/veridia/adscan/idgen"
	"github.com/veridia/adscan/probe"
	"github.com/veridia/adscan/results"
	"github.com/veridia/adscan/tasks"
)

// Task phases, reported on failure.
const (
	PhaseNavigate   = "navigate"
	PhaseSelect     = "select"
	PhaseSearch     = "search"
	PhaseCompile    = "compile"
	PhaseExtract    = "extract"
	PhasePersist    = "persist"
	PhaseCheckpoint = "checkpoint"
)

const (
	navigateAttempts = 3
	selectTimeout    = 5 * time.Second
	defaultPause     = 2 * time.Second
)

// Session is a page driver the engine can dispose of.
type Session interface {
	driver.PageDriver
	Close() error
}

// SessionFactory produces a fresh session for a run.
type SessionFactory func(ctx context.Context) (Session, error)

// TaskFailure describes one task that was aborted.
type TaskFailure struct {
	Key   tasks.Key
	Phase string
	Err   error
}

// Report summarises a finished run.
type Report struct {
	RunID     string
	Completed int
	Skipped   int
	Items     int
	Failures  []TaskFailure
}

// Options wires the engine's collaborators.
type Options struct {
	Sessions   SessionFactory
	Parser     extract.ItemParser
	Sink       *results.Sink
	Checkpoint *checkpoint.Store
	Trail      *audit.Trail // optional
	Locators   *Locators    // nil = DefaultLocators
	Pause      time.Duration
	Log        *slog.Logger
}

// Engine runs tasks against one configuration.
type Engine struct {
	cfg      *config.Config
	sessions SessionFactory
	parser   extract.ItemParser
	sink     *results.Sink
	ckpt     *checkpoint.Store
	trail    *audit.Trail
	locs     Locators
	pause    time.Duration
	log      *slog.Logger
	runID    string

	// persistMu orders sink appends and checkpoint marks so a checkpoint
	// never records a task whose results are not on disk yet.
	persistMu sync.Mutex
}

// New assembles an Engine.
func New(cfg *config.Config, opts Options) *Engine {
	locs := DefaultLocators()
	if opts.Locators != nil {
		locs = *opts.Locators
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	pause := opts.Pause
	if pause <= 0 {
		pause = defaultPause
	}
	return &Engine{
		cfg:      cfg,
		sessions: opts.Sessions,
		parser:   opts.Parser,
		sink:     opts.Sink,
		ckpt:     opts.Checkpoint,
		trail:    opts.Trail,
		locs:     locs,
		pause:    pause,
		log:      log,
		runID:    idgen.Prefixed("run_", idgen.Default)(),
	}
}

// RunID returns the identifier of this engine's run.
func (e *Engine) RunID() string { return e.runID }

// Run executes every pending task. Task-local failures abort only their
// task; the report lists them. Run stops between tasks when ctx is
// cancelled and returns the report alongside ctx's error.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	all := tasks.Enumerate(tasks.Dimensions{
		Pairs:  e.cfg.Pairs,
		Owners: e.cfg.Filters.Owners,
	})
	pending := all
	if *e.cfg.Resume {
		pending = tasks.Pending(all, e.ckpt.Completed())
	}
	report := &Report{RunID: e.runID, Skipped: len(all) - len(pending)}
	e.log.Info("engine: run starting",
		"run_id", e.runID, "mode", e.cfg.Mode,
		"tasks", len(pending), "skipped", report.Skipped)

	if len(pending) == 0 {
		return report, nil
	}

	session, err := e.sessions(ctx)
	if err != nil {
		return report, fmt.Errorf("engine: session: %w", err)
	}
	defer session.Close()

	for _, key := range pending {
		if err := ctx.Err(); err != nil {
			e.log.Info("engine: cancelled between tasks", "run_id", e.runID)
			return report, err
		}

		started := time.Now()
		count, failure := e.runTask(ctx, session, key)
		e.record(ctx, key, count, started, failure)

		if failure != nil {
			report.Failures = append(report.Failures, *failure)
			e.log.Warn("engine: task failed",
				"region", key.Region, "query", key.Query, "owner", key.Owner,
				"phase", failure.Phase, "error", failure.Err)
			continue
		}
		report.Completed++
		report.Items += count
		e.log.Info("engine: task done",
			"region", key.Region, "query", key.Query, "owner", key.Owner,
			"items", count, "elapsed", time.Since(started))
	}
	return report, nil
}

// runTask executes one task end to end and returns the number of items
// persisted.
func (e *Engine) runTask(ctx context.Context, s Session, key tasks.Key) (int, *TaskFailure) {
	fail := func(phase string, err error) (int, *TaskFailure) {
		return 0, &TaskFailure{Key: key, Phase: phase, Err: err}
	}

	if err := e.navigate(ctx, s, e.cfg.Target); err != nil {
		return fail(PhaseNavigate, err)
	}
	if err := e.selectRegion(ctx, s, key.Region); err != nil {
		return fail(PhaseSelect, err)
	}

	// Owner tasks search for the owner's name; the query stays in the
	// task key for checkpointing and the output record.
	searchTerm := key.Query
	if key.Owner != "" {
		searchTerm = key.Owner
	}

	var suggestions []extract.Suggestion
	if e.cfg.Mode != config.ModeItemsOnly {
		sugg, err := e.harvestSuggestions(ctx, s, searchTerm)
		if err != nil {
			return fail(PhaseSearch, err)
		}
		suggestions = sugg
	}

	var items []extract.Item
	if e.cfg.Mode != config.ModeSuggestionsOnly {
		if err := e.submitSearch(ctx, s, searchTerm); err != nil {
			return fail(PhaseSearch, err)
		}
		if err := e.applyFilters(ctx, s); err != nil {
			return fail(PhaseCompile, err)
		}

		loop := &extract.Loop{
			Driver: s,
			Prober: &probe.Prober{
				Driver:       s,
				Layout:       e.cfg.Layout,
				GapTolerance: e.cfg.GapTolerance,
				Log:          e.log,
			},
			Parser:        e.parser,
			MaxIdleRounds: e.cfg.MaxIdleRounds,
			SettleDelay:   e.cfg.SettleDelay,
			Log:           e.log,
		}
		extracted, err := loop.Run(ctx, e.cfg.Limit)
		if err != nil {
			return fail(PhaseExtract, err)
		}
		items = extracted

		if key.Owner != "" {
			before := len(items)
			items = filterByOwner(items, key.Owner)
			e.log.Info("engine: owner filter",
				"owner", key.Owner, "kept", len(items), "of", before)
		}
	}

	record := results.Record{
		Region:      key.Region,
		Query:       key.Query,
		Owner:       key.Owner,
		Filters:     e.cfg.Filters,
		Suggestions: suggestions,
		Items:       items,
		CompletedAt: time.Now().UTC(),
	}

	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	if err := e.sink.Append(e.cfg.OutputID, record); err != nil {
		return fail(PhasePersist, err)
	}
	if err := e.ckpt.Mark(key); err != nil {
		return fail(PhaseCheckpoint, err)
	}
	return len(items), nil
}

// navigate loads a URL with bounded retries.
func (e *Engine) navigate(ctx context.Context, s Session, url string) error {
	var err error
	for attempt := 1; attempt <= navigateAttempts; attempt++ {
		if err = s.Navigate(ctx, url); err == nil {
			return e.wait(ctx)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.log.Warn("engine: navigation failed, retrying",
			"attempt", attempt, "error", err)
		if werr := sleep(ctx, time.Duration(attempt)*e.pause); werr != nil {
			return werr
		}
	}
	return fmt.Errorf("engine: navigate after %d attempts: %w", navigateAttempts, err)
}

// selectRegion opens the region picker, types the region name and
// clicks the first matching option, then resets the ad category.
func (e *Engine) selectRegion(ctx context.Context, s Session, region string) error {
	if err := e.locs.RegionMenu.Click(ctx, s); err != nil {
		return fmt.Errorf("engine: open region menu: %w", err)
	}
	input, err := e.locs.RegionInput.First(ctx, s)
	if err != nil {
		return fmt.Errorf("engine: region input: %w", err)
	}
	if err := s.Type(ctx, input, region); err != nil {
		return fmt.Errorf("engine: type region: %w", err)
	}

	option, err := e.locs.RegionOption(region).WaitAny(ctx, s, selectTimeout)
	if err != nil {
		return fmt.Errorf("engine: region option %q: %w", region, err)
	}
	if err := s.Click(ctx, option); err != nil {
		return fmt.Errorf("engine: select region %q: %w", region, err)
	}
	if err := e.wait(ctx); err != nil {
		return err
	}

	// Reset the category to All ads; the compiled URL narrows it later.
	if err := e.locs.CategoryMenu.Click(ctx, s); err != nil {
		return fmt.Errorf("engine: open category menu: %w", err)
	}
	if err := e.locs.CategoryAll.Click(ctx, s); err != nil {
		return fmt.Errorf("engine: select category: %w", err)
	}
	return e.wait(ctx)
}

// harvestSuggestions types the term without submitting and collects the
// open dropdown's options.
func (e *Engine) harvestSuggestions(ctx context.Context, s Session, term string) ([]extract.Suggestion, error) {
	box, err := e.locs.SearchBox.First(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("engine: search box: %w", err)
	}
	if err := s.Type(ctx, box, term); err != nil {
		return nil, fmt.Errorf("engine: type term: %w", err)
	}
	if err := e.wait(ctx); err != nil {
		return nil, err
	}

	var suggestions []extract.Suggestion
	for n := 1; ; n++ {
		loc := e.locs.SuggestionOption(n)
		ok, err := s.Exists(ctx, loc)
		if err != nil {
			return nil, fmt.Errorf("engine: suggestion %d: %w", n, err)
		}
		if !ok {
			break
		}
		text, err := s.Text(ctx, loc)
		if err != nil {
			return nil, fmt.Errorf("engine: suggestion %d text: %w", n, err)
		}
		id, err := s.Attribute(ctx, loc, "id")
		if err != nil {
			return nil, fmt.Errorf("engine: suggestion %d id: %w", n, err)
		}
		name, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
		if name == "" {
			continue
		}
		suggestions = append(suggestions, extract.Suggestion{
			PageID:  id,
			Name:    strings.TrimSpace(name),
			RawText: strings.TrimSpace(text),
		})
	}
	e.log.Info("engine: suggestions harvested", "term", term, "count", len(suggestions))
	return suggestions, nil
}

// submitSearch types the term into the search box and submits it.
func (e *Engine) submitSearch(ctx context.Context, s Session, term string) error {
	box, err := e.locs.SearchBox.First(ctx, s)
	if err != nil {
		return fmt.Errorf("engine: search box: %w", err)
	}
	if err := s.Type(ctx, box, term); err != nil {
		return fmt.Errorf("engine: type term: %w", err)
	}
	if err := s.Submit(ctx, box); err != nil {
		return fmt.Errorf("engine: submit term: %w", err)
	}
	return e.wait(ctx)
}

// applyFilters compiles the filter spec onto the current URL and
// reloads only when the compiled URL differs.
func (e *Engine) applyFilters(ctx context.Context, s Session) error {
	current, err := s.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("engine: current url: %w", err)
	}
	compiled, err := filterspec.Compile(current, e.cfg.Filters)
	if err != nil {
		return err
	}
	if compiled == current {
		return nil
	}
	return e.navigate(ctx, s, compiled)
}

func filterByOwner(items []extract.Item, owner string) []extract.Item {
	kept := items[:0]
	for _, it := range items {
		if filterspec.MatchOwner(it.Owner, owner) {
			kept = append(kept, it)
		}
	}
	return kept
}

// record writes the task outcome to the audit trail if one is wired.
func (e *Engine) record(ctx context.Context, key tasks.Key, count int, started time.Time, failure *TaskFailure) {
	if e.trail == nil {
		return
	}
	entry := audit.Entry{
		RunID:     e.runID,
		Key:       key,
		Status:    audit.StatusSuccess,
		ItemCount: count,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	if failure != nil {
		entry.Phase = failure.Phase
		entry.Err = failure.Err
		entry.Status = audit.StatusError
		if ctx.Err() != nil {
			entry.Status = audit.StatusCancelled
		}
	} else {
		entry.Phase = PhaseCheckpoint
	}
	// Audit uses a background context so a cancelled run still records
	// its last task.
	if err := e.trail.Record(context.Background(), entry); err != nil {
		e.log.Warn("engine: audit record failed", "error", err)
	}
}

func (e *Engine) wait(ctx context.Context) error {
	return sleep(ctx, e.pause)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
