package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"edaagent/pkg/ai"
	"edaagent/pkg/domain"
	"edaagent/pkg/eda"
	"edaagent/pkg/pipeline"
	"edaagent/pkg/queue"
	"edaagent/pkg/store"
)

const (
	defaultSessionIdleTTL = 2 * time.Hour
	defaultArchiveWorkers = 2
)

// ScriptArchive stores and links generated scripts in object storage.
type ScriptArchive interface {
	Store(ctx context.Context, rec domain.DesignRecord) error
	URL(ctx context.Context, userID, designID string) (string, error)
}

// ArchiveQueue defers script archiving to background workers.
type ArchiveQueue interface {
	Enqueue(ctx context.Context, userID, designID string) (queue.Job, error)
	Start(ctx context.Context, concurrency int, handler queue.Handler)
	JobForDesign(ctx context.Context, designID string) (queue.Job, bool, error)
}

// EventPublisher announces saved designs.
type EventPublisher interface {
	PublishDesignCreated(ctx context.Context, rec domain.DesignRecord) error
}

// Config holds runtime dependencies for the designer application.
type Config struct {
	Generator      ai.ContentGenerator
	Backend        store.Backend
	Notifier       store.Notifier
	Archive        ScriptArchive
	ArchiveQueue   ArchiveQueue
	ArchiveWorkers int
	Events         EventPublisher
	Metrics        *pipeline.Metrics
	Logger         *slog.Logger
	SessionIdleTTL time.Duration
}

// Caller identifies who a request acts for. UserID is set for authenticated
// callers; anonymous callers only have a SessionID and nothing they generate
// is persisted.
type Caller struct {
	UserID    string
	SessionID string
}

func (c Caller) key() (string, error) {
	if id := strings.TrimSpace(c.UserID); id != "" {
		return "user:" + id, nil
	}
	if id := strings.TrimSpace(c.SessionID); id != "" {
		return "anon:" + id, nil
	}
	return "", ErrSessionRequired
}

// App owns one pipeline orchestrator per caller and the shared design history.
type App struct {
	netlists *eda.NetlistGenerator
	scripts  *eda.ScriptGenerator
	records  *store.Records
	archive  ScriptArchive
	jobs     ArchiveQueue
	workers  int
	metrics  *pipeline.Metrics
	logger   *slog.Logger
	idleTTL  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	orch     *pipeline.Orchestrator
	lastSeen time.Time
}

// New wires the generators, the design store and the optional after-save
// integrations.
func New(cfg Config) (*App, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("content generator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backend := cfg.Backend
	if backend == nil {
		backend = store.NewMemoryStore()
	}
	opts := []store.RecordsOption{store.WithLogger(logger)}
	if cfg.Notifier != nil {
		opts = append(opts, store.WithNotifier(cfg.Notifier))
	}
	switch {
	case cfg.Archive != nil && cfg.ArchiveQueue != nil:
		jobs := cfg.ArchiveQueue
		opts = append(opts, store.WithAfterSave(func(ctx context.Context, rec domain.DesignRecord) error {
			_, err := jobs.Enqueue(ctx, rec.UserID, rec.ID)
			return err
		}))
	case cfg.Archive != nil:
		opts = append(opts, store.WithAfterSave(cfg.Archive.Store))
	}
	if cfg.Events != nil {
		opts = append(opts, store.WithAfterSave(cfg.Events.PublishDesignCreated))
	}
	workers := cfg.ArchiveWorkers
	if workers <= 0 {
		workers = defaultArchiveWorkers
	}
	idleTTL := cfg.SessionIdleTTL
	if idleTTL <= 0 {
		idleTTL = defaultSessionIdleTTL
	}
	return &App{
		netlists: eda.NewNetlistGenerator(cfg.Generator),
		scripts:  eda.NewScriptGenerator(cfg.Generator),
		records:  store.NewRecords(backend, opts...),
		archive:  cfg.Archive,
		jobs:     cfg.ArchiveQueue,
		workers:  workers,
		metrics:  cfg.Metrics,
		logger:   logger,
		idleTTL:  idleTTL,
		now:      time.Now,
		sessions: make(map[string]*session),
	}, nil
}

// orchestrator returns the caller's orchestrator, creating it on first use.
// Idle sessions past their TTL are dropped on the way.
func (a *App) orchestrator(caller Caller) (*pipeline.Orchestrator, error) {
	key, err := caller.key()
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for k, s := range a.sessions {
		if k != key && now.Sub(s.lastSeen) > a.idleTTL && !pipeline.Loading(s.orch.State()) {
			delete(a.sessions, k)
		}
	}
	if s, ok := a.sessions[key]; ok {
		s.lastSeen = now
		return s.orch, nil
	}
	orch, err := pipeline.New(pipeline.Config{
		Netlists: a.netlists,
		Scripts:  a.scripts,
		Records:  a.records,
		Logger:   a.logger.With("session", key),
		Metrics:  a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.sessions[key] = &session{orch: orch, lastSeen: now}
	return orch, nil
}

// Generate runs the two-stage pipeline for the caller.
func (a *App) Generate(ctx context.Context, caller Caller, description string) (pipeline.State, error) {
	orch, err := a.orchestrator(caller)
	if err != nil {
		return nil, err
	}
	return orch.Run(ctx, caller.UserID, description)
}

// Session returns the caller's current pipeline state.
func (a *App) Session(caller Caller) (pipeline.State, error) {
	orch, err := a.orchestrator(caller)
	if err != nil {
		return nil, err
	}
	return orch.State(), nil
}

// Reset clears the caller's pipeline state and cancels an in-flight run.
func (a *App) Reset(caller Caller) (pipeline.State, error) {
	orch, err := a.orchestrator(caller)
	if err != nil {
		return nil, err
	}
	orch.Reset()
	return orch.State(), nil
}

// LoadDesign shows a saved design as the caller's current result.
func (a *App) LoadDesign(ctx context.Context, caller Caller, designID string) (pipeline.State, error) {
	rec, err := a.GetDesign(ctx, caller, designID)
	if err != nil {
		return nil, err
	}
	orch, err := a.orchestrator(caller)
	if err != nil {
		return nil, err
	}
	if err := orch.LoadFromHistory(rec); err != nil {
		return nil, err
	}
	return orch.State(), nil
}

// ListDesigns returns the caller's saved designs, newest first.
func (a *App) ListDesigns(ctx context.Context, caller Caller) ([]domain.DesignRecord, error) {
	if strings.TrimSpace(caller.UserID) == "" {
		return nil, ErrIdentityRequired
	}
	return a.records.List(ctx, caller.UserID)
}

// GetDesign returns one of the caller's saved designs.
func (a *App) GetDesign(ctx context.Context, caller Caller, designID string) (domain.DesignRecord, error) {
	if strings.TrimSpace(caller.UserID) == "" {
		return domain.DesignRecord{}, ErrIdentityRequired
	}
	return a.records.LoadByID(ctx, caller.UserID, designID)
}

// ScriptURL returns a presigned download link for a saved design's script.
func (a *App) ScriptURL(ctx context.Context, caller Caller, designID string) (string, error) {
	if a.archive == nil {
		return "", ErrArchiveDisabled
	}
	rec, err := a.GetDesign(ctx, caller, designID)
	if err != nil {
		return "", err
	}
	return a.archive.URL(ctx, rec.UserID, rec.ID)
}

// ArchiveStatus reports the background archive job for one of the caller's
// saved designs.
func (a *App) ArchiveStatus(ctx context.Context, caller Caller, designID string) (queue.Job, error) {
	if a.archive == nil || a.jobs == nil {
		return queue.Job{}, ErrArchiveDisabled
	}
	rec, err := a.GetDesign(ctx, caller, designID)
	if err != nil {
		return queue.Job{}, err
	}
	job, ok, err := a.jobs.JobForDesign(ctx, rec.ID)
	if err != nil {
		return queue.Job{}, fmt.Errorf("archive status: %w", err)
	}
	if !ok {
		return queue.Job{}, ErrArchiveJobNotFound
	}
	return job, nil
}

// SubscribeDesigns streams the caller's history until ctx ends or the
// subscription is closed.
func (a *App) SubscribeDesigns(ctx context.Context, caller Caller, onChange func([]domain.DesignRecord)) (*store.Subscription, error) {
	if strings.TrimSpace(caller.UserID) == "" {
		return nil, ErrIdentityRequired
	}
	return a.records.Subscribe(ctx, caller.UserID, onChange)
}

// StartArchiveWorkers consumes queued archive jobs until ctx ends. It is a
// no-op unless both an archive and a queue are configured.
func (a *App) StartArchiveWorkers(ctx context.Context) {
	if a.archive == nil || a.jobs == nil {
		return
	}
	a.jobs.Start(ctx, a.workers, a.archiveDesign)
}

func (a *App) archiveDesign(ctx context.Context, job queue.Job) error {
	rec, err := a.records.LoadByID(ctx, job.UserID, job.DesignID)
	if err != nil {
		return fmt.Errorf("load design %s: %w", job.DesignID, err)
	}
	return a.archive.Store(ctx, rec)
}

// SessionCount reports live caller sessions.
func (a *App) SessionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}
