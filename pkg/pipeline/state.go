package pipeline

import (
	"edaagent/pkg/domain"
)

// Stage identifies one generative call within a run.
type Stage int

const (
	StageNetlist Stage = iota + 1
	StageScript
)

func (s Stage) String() string {
	switch s {
	case StageNetlist:
		return "netlist"
	case StageScript:
		return "script"
	default:
		return "unknown"
	}
}

// Step is the progress indicator shown to the caller.
type Step int

const (
	StepIdle         Step = 0
	StepNetlistReady Step = 1
	StepScriptReady  Step = 2
)

// State is the orchestrator's current run state. It is one of Idle, Running,
// Complete or Failed.
type State interface {
	// Kind is a stable lowercase name for the variant.
	Kind() string
	Step() Step
	isState()
}

// Idle means no run is in flight and nothing is displayed.
type Idle struct{}

// Running means a stage is executing. Netlist is set once stage 1 has
// returned, while stage 2 runs.
type Running struct {
	Stage       Stage
	Description string
	Netlist     *domain.StructuredNetlist
	Warnings    []string
}

// Complete holds a full result, either freshly generated or loaded from
// history. Saving is set while the record is being written. RecordID is empty
// when the result was not persisted; PersistErr is set when persisting failed.
type Complete struct {
	Draft       domain.DesignDraft
	RecordID    string
	PersistErr  error
	Saving      bool
	FromHistory bool
	Warnings    []string
}

// Failed records the stage that failed. A netlist obtained before a stage-2
// failure is kept.
type Failed struct {
	Stage       Stage
	Description string
	Netlist     *domain.StructuredNetlist
	Err         error
	Warnings    []string
}

func (Idle) Kind() string     { return "idle" }
func (Running) Kind() string  { return "running" }
func (Complete) Kind() string { return "complete" }
func (Failed) Kind() string   { return "failed" }

func (Idle) Step() Step { return StepIdle }

func (r Running) Step() Step {
	if r.Stage == StageScript {
		return StepNetlistReady
	}
	return StepIdle
}

func (Complete) Step() Step { return StepScriptReady }

func (f Failed) Step() Step {
	if f.Stage == StageScript && f.Netlist != nil {
		return StepNetlistReady
	}
	return StepIdle
}

// Message is the failure text surfaced to the caller verbatim.
func (f Failed) Message() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

func (Idle) isState()     {}
func (Running) isState()  {}
func (Complete) isState() {}
func (Failed) isState()   {}

// Loading reports whether a run is in flight.
func Loading(s State) bool {
	_, ok := s.(Running)
	return ok
}
