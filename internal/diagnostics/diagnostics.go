// Package diagnostics records failures that the topology engine recovers from.
//
// Extension failures never abort a composition pass. They are reported here
// instead so they stay observable in logs, metrics and tests.
package diagnostics

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// Phase names the step an extension failed in.
type Phase string

const (
	PhaseResources  Phase = "resources"
	PhaseModel      Phase = "model"
	PhaseDepicter   Phase = "depicter"
	PhaseReconciler Phase = "reconciler"
	PhaseBuild      Phase = "build"
	PhaseReconcile  Phase = "reconcile"
)

type Diagnostic struct {
	Extension string
	Phase     Phase
	Err       error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("extension %q failed during %s: %v", d.Extension, d.Phase, d.Err)
}

// Sink receives diagnostics. Implementations must be safe for concurrent use.
type Sink interface {
	Report(d Diagnostic)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Diagnostic)

func (f SinkFunc) Report(d Diagnostic) { f(d) }

// Discard drops every diagnostic.
var Discard Sink = SinkFunc(func(Diagnostic) {})

// LogSink writes diagnostics to a logr.Logger.
type LogSink struct {
	Log logr.Logger
}

func (s LogSink) Report(d Diagnostic) {
	s.Log.Error(d.Err, "extension failure recovered", "extension", d.Extension, "phase", string(d.Phase))
}

// Recorder keeps every diagnostic it receives.
type Recorder struct {
	mu   sync.Mutex
	diag []Diagnostic
}

func (r *Recorder) Report(d Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diag = append(r.diag, d)
}

func (r *Recorder) Diagnostics() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Diagnostic(nil), r.diag...)
}

// Multi fans a diagnostic out to every sink.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(d Diagnostic) {
		for _, s := range sinks {
			if s != nil {
				s.Report(d)
			}
		}
	})
}

// Recovered converts a recovered panic value into an error.
func Recovered(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", v)
}
