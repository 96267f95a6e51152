package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"edaagent/pkg/domain"
	"edaagent/pkg/eda"
)

var (
	// ErrRunInProgress rejects a run or history load while another run is in flight.
	ErrRunInProgress = errors.New("a design run is already in progress")
	// ErrRunReset is returned by Run when Reset discarded the run before it finished.
	ErrRunReset = errors.New("design run was reset")
)

const (
	descriptionRequiredMessage = "Please enter a circuit description"
	defaultPersistTimeout      = 30 * time.Second
)

// ValidationError rejects input before any generator is invoked.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NetlistStage produces the structured netlist for a description.
type NetlistStage interface {
	Generate(ctx context.Context, description string) (domain.StructuredNetlist, error)
}

// ScriptStage produces the CAD automation script.
type ScriptStage interface {
	Generate(ctx context.Context, description string, netlist *domain.StructuredNetlist) (string, error)
}

// Recorder persists completed runs.
type Recorder interface {
	Save(ctx context.Context, userID string, draft domain.DesignDraft) (string, error)
}

// Config holds the orchestrator's collaborators. Records may be nil, in which
// case nothing is persisted.
type Config struct {
	Netlists NetlistStage
	Scripts  ScriptStage
	Records  Recorder
	Logger   *slog.Logger
	Metrics  *Metrics

	// PersistTimeout bounds one Save; 30s when zero.
	PersistTimeout time.Duration
}

// Orchestrator runs stage 1 then stage 2 for one caller and owns that caller's
// run state. Only one run may be in flight at a time.
type Orchestrator struct {
	netlists NetlistStage
	scripts  ScriptStage
	records  Recorder
	logger   *slog.Logger
	metrics  *Metrics

	persistTimeout time.Duration

	mu       sync.Mutex
	state    State
	running  bool
	epoch    uint64
	cancel   context.CancelFunc
	watchers map[int]func(State)
	nextID   int
}

// New constructs an orchestrator in the Idle state.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Netlists == nil {
		return nil, fmt.Errorf("netlist stage required")
	}
	if cfg.Scripts == nil {
		return nil, fmt.Errorf("script stage required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	persistTimeout := cfg.PersistTimeout
	if persistTimeout <= 0 {
		persistTimeout = defaultPersistTimeout
	}
	return &Orchestrator{
		netlists:       cfg.Netlists,
		scripts:        cfg.Scripts,
		records:        cfg.Records,
		logger:         logger,
		metrics:        cfg.Metrics,
		persistTimeout: persistTimeout,
		state:          Idle{},
		watchers:       make(map[int]func(State)),
	}, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Watch registers fn to receive every state change and returns a func that
// removes it. fn is called synchronously with the new state and must not call
// back into the orchestrator.
func (o *Orchestrator) Watch(fn func(State)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.watchers[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.watchers, id)
	}
}

// setLocked must be called with o.mu held.
func (o *Orchestrator) setLocked(s State) {
	o.state = s
	for _, fn := range o.watchers {
		fn(s)
	}
}

// transition applies s only if the run identified by epoch is still current.
func (o *Orchestrator) transition(epoch uint64, s State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch != epoch {
		return false
	}
	o.setLocked(s)
	return true
}

// finish releases the run guard if the run is still current.
func (o *Orchestrator) finish(epoch uint64, cancel context.CancelFunc) {
	cancel()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch == epoch {
		o.running = false
		o.cancel = nil
	}
}

// Run executes both stages for description and persists the result under
// userID when userID is non-empty. Complete is published as soon as stage 2
// returns (with Saving set while the record is written), then again with
// RecordID or PersistErr. It returns the final state. Stage failures are
// returned as errors alongside the Failed state; a persistence failure is
// reported on Complete.PersistErr and does not fail the run.
func (o *Orchestrator) Run(ctx context.Context, userID, description string) (State, error) {
	if strings.TrimSpace(description) == "" {
		return nil, &ValidationError{Field: "description", Message: descriptionRequiredMessage}
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrRunInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.running = true
	o.epoch++
	epoch := o.epoch
	o.cancel = cancel
	o.setLocked(Running{Stage: StageNetlist, Description: description})
	o.mu.Unlock()
	defer o.finish(epoch, cancel)

	start := time.Now()
	netlist, err := o.netlists.Generate(runCtx, description)
	o.metrics.observeStage(StageNetlist, time.Since(start), err)
	if err != nil {
		return o.fail(epoch, Failed{Stage: StageNetlist, Description: description, Err: err})
	}

	warnings := eda.CheckConsistency(netlist)
	o.metrics.warnings(len(warnings))
	if len(warnings) > 0 {
		o.logger.Info("netlist consistency warnings", "count", len(warnings), "warnings", warnings)
	}
	visible := netlist.Clone()
	if !o.transition(epoch, Running{Stage: StageScript, Description: description, Netlist: &visible, Warnings: warnings}) {
		return o.discarded()
	}

	start = time.Now()
	script, err := o.scripts.Generate(runCtx, description, &netlist)
	o.metrics.observeStage(StageScript, time.Since(start), err)
	if err != nil {
		kept := netlist.Clone()
		return o.fail(epoch, Failed{Stage: StageScript, Description: description, Netlist: &kept, Err: err, Warnings: warnings})
	}

	draft := domain.DesignDraft{Prompt: description, StructuredNetlist: netlist, Script: script}
	userID = strings.TrimSpace(userID)
	saving := userID != "" && o.records != nil
	if !o.transition(epoch, Complete{Draft: draft, Saving: saving, Warnings: warnings}) {
		return o.discarded()
	}
	o.metrics.run("complete")
	complete := Complete{Draft: draft, Warnings: warnings}
	if !saving {
		return complete, nil
	}

	// The result is already displayed; neither a client disconnect nor a
	// Reset cancels its write.
	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(runCtx), o.persistTimeout)
	defer cancelSave()
	id, err := o.records.Save(saveCtx, userID, draft)
	if err != nil {
		o.logger.Error("failed to save design", "user_id", userID, "err", err)
		o.metrics.persistFailed()
		complete.PersistErr = err
	} else {
		complete.RecordID = id
	}
	// A Reset during the save leaves Idle in place.
	o.transition(epoch, complete)
	return complete, nil
}

func (o *Orchestrator) fail(epoch uint64, f Failed) (State, error) {
	o.logger.Error("design stage failed", "stage", f.Stage.String(), "err", f.Err)
	if !o.transition(epoch, f) {
		return o.discarded()
	}
	o.metrics.run("failed")
	return f, f.Err
}

func (o *Orchestrator) discarded() (State, error) {
	o.metrics.run("reset")
	return o.State(), ErrRunReset
}

// Reset clears the state to Idle and cancels any in-flight run. Results of
// the canceled run are discarded.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.running = false
	o.epoch++
	o.setLocked(Idle{})
}

// LoadFromHistory displays a persisted record as a completed result without
// invoking either generator.
func (o *Orchestrator) LoadFromHistory(rec domain.DesignRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrRunInProgress
	}
	o.epoch++
	draft := rec.Draft()
	draft.StructuredNetlist = draft.StructuredNetlist.Clone()
	o.setLocked(Complete{
		Draft:       draft,
		RecordID:    rec.ID,
		FromHistory: true,
		Warnings:    eda.CheckConsistency(draft.StructuredNetlist),
	})
	return nil
}
