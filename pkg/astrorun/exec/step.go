// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package exec implements the execution context and the job/step/workflow
// runtime: the orchestrator that drives a Runner through a workflow's
// DAG, translating log streams and signals into
// StepRunResult/JobRunResult/WorkflowRunResult values.
package exec

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	astroerrors "github.com/panghu-huang/astro-run-sub000/internal/errors"
	"github.com/panghu-huang/astro-run-sub000/internal/tracing"
	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/action"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/logstream"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/plugin"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/runner"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/signal"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/trigger"
)

var tracer = tracing.Tracer("astrorun/exec")

// SignalRegistry tracks the in-flight Signal for every currently running
// step, keyed by its canonical id string. cancel_job and remote Signal
// events look a step up here to fire its cancel.
type SignalRegistry struct {
	mu      sync.Mutex
	signals map[string]*signal.Signal
}

// NewSignalRegistry returns an empty registry.
func NewSignalRegistry() *SignalRegistry {
	return &SignalRegistry{signals: make(map[string]*signal.Signal)}
}

func (r *SignalRegistry) register(id string, s *signal.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals[id] = s
}

func (r *SignalRegistry) unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.signals, id)
}

// Lookup returns the Signal registered for id, if its step is still running.
func (r *SignalRegistry) Lookup(id string) (*signal.Signal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.signals[id]
	return s, ok
}

// RunningUnder returns the signals of every step currently registered
// under jobID's canonical prefix ("workflow/key/"), used by cancel_job.
func (r *SignalRegistry) RunningUnder(jobPrefix string) []*signal.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*signal.Signal
	for id, s := range r.signals {
		if len(id) > len(jobPrefix) && id[:len(jobPrefix)] == jobPrefix {
			out = append(out, s)
		}
	}
	return out
}

// Context is the execution context threaded through a workflow run: the
// runner, plugin driver, action driver, signal registry and workflow
// event shared by every step in the run.
type Context struct {
	Runner  runner.Runner
	Plugins *plugin.Driver
	Actions *action.Driver
	Signals *SignalRegistry
	Event   astrorun.WorkflowEvent
	Logger  *slog.Logger

	// matcher evaluates job/step on: conditions during a workflow run. Set
	// by RunWorkflow before the job fan-out starts; nil means every
	// condition matches (fail open).
	matcher *trigger.Matcher
}

// NewContext builds a Context. logger may be nil.
func NewContext(r runner.Runner, plugins *plugin.Driver, actions *action.Driver, event astrorun.WorkflowEvent, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		Runner:  r,
		Plugins: plugins,
		Actions: actions,
		Signals: NewSignalRegistry(),
		Event:   event,
		Logger:  logger,
	}
}

// RunStep executes a single step. It never returns an error; execution
// failures are folded into the returned StepRunResult.
func (c *Context) RunStep(ctx context.Context, step astrorun.Step) astrorun.StepRunResult {
	step = c.Plugins.OnBeforeRunStep(step)
	c.Plugins.OnRunStep(c.Event)
	c.Runner.OnRunStep(c.Event)

	if step.IsAction() {
		if expansion, ok, err := c.Actions.TryNormalize(step); ok {
			if err != nil {
				return c.synthesizeFailure(step.Id, err)
			}
			return c.runExpansion(ctx, step, expansion)
		}
		if a, ok := c.Plugins.ResolveDynamicAction(step); ok {
			expansion, err := a.Normalize(step)
			if err != nil {
				return c.synthesizeFailure(step.Id, err)
			}
			return c.runExpansion(ctx, step, expansion)
		}
		return c.synthesizeFailure(step.Id, astroerrors.NewWorkflowConfigError("unknown action %q", step.Uses))
	}

	return c.runCommand(ctx, step)
}

// runExpansion runs an action's {pre?, run, post?} triple sequentially. A
// pre that does not succeed ends the step with its result, and neither run
// nor post runs; otherwise post runs after run whatever run's result, and
// the step takes run's result.
func (c *Context) runExpansion(ctx context.Context, original astrorun.Step, expansion action.Expansion) astrorun.StepRunResult {
	if expansion.Pre != nil {
		pre := withId(*expansion.Pre, original.Id)
		if result := c.runCommand(ctx, pre); result.State != astrorun.StateSucceeded {
			return result
		}
	}

	run := withId(expansion.Run, original.Id)
	result := c.runCommand(ctx, run)

	if expansion.Post != nil {
		post := withId(*expansion.Post, original.Id)
		c.runCommand(ctx, post)
	}

	return result
}

func withId(step astrorun.Step, id astrorun.StepId) astrorun.Step {
	step.Id = id
	return step
}

// runCommand runs a single command step: drives the runner, the timeout
// guard, and the log-draining loop.
func (c *Context) runCommand(ctx context.Context, step astrorun.Step) astrorun.StepRunResult {
	startedAt := time.Now()
	idStr := step.Id.String()

	ctx, span := tracer.Start(ctx, "step.run",
		trace.WithAttributes(attribute.String("step.id", idStr)))
	defer span.End()

	c.emitStateChange(idStr, astrorun.StateInProgress)

	sig := signal.New()
	c.Signals.register(idStr, sig)
	defer c.Signals.unregister(idStr)

	expired := make(chan struct{})
	if step.Timeout > 0 {
		timer := time.AfterFunc(step.Timeout, func() {
			_ = sig.Timeout()
			close(expired)
		})
		defer timer.Stop()
	}

	stream, err := c.Runner.Run(ctx, runner.RunContext{
		Id:      step.Id,
		Command: step,
		Signal:  sig,
		Event:   c.Event,
	})
	if err != nil {
		span.RecordError(err)
		stepResult := c.finish(step.Id, astrorun.Failed(1), &startedAt)
		span.SetAttributes(attribute.String("step.state", string(stepResult.State)))
		return stepResult
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		c.drain(idStr, stream)
	}()
	select {
	case <-drained:
	case <-expired:
		// The runner has not ended the stream by the deadline: end it here
		// with the timeout exit code (a no-op if the runner just did).
		stream.End(astrorun.Failed(astrorun.TimeoutExitCode))
		<-drained
	}

	result, _ := stream.Result()
	stepResult := c.finish(step.Id, result, &startedAt)
	span.SetAttributes(attribute.String("step.state", string(stepResult.State)))
	return stepResult
}

// drain forwards every record on stream to the plugin driver's on_log hook
// in order, stopping once the stream ends.
func (c *Context) drain(stepID string, stream *logstream.Stream) {
	for {
		record, ok := stream.Next()
		if !ok {
			return
		}
		c.Plugins.OnLog(stepID, record)
		c.Runner.OnLog(stepID, record)
	}
}

// emitStateChange fans a state transition out to the plugin driver and the
// runner's own state hook (the coordinator broadcasts these as
// WorkflowStateEvents to its subscribers).
func (c *Context) emitStateChange(id string, state astrorun.State) {
	c.Plugins.OnStateChange(plugin.StateChangeEvent{Id: id, State: state})
	c.Runner.OnStateChange(id, state)
}

// conditionMatches evaluates a job/step on: condition against the run's
// event. A nil matcher or an empty condition always matches, and an
// evaluation error fails open: only a condition the matcher could
// actually evaluate to false blocks execution.
func (c *Context) conditionMatches(id string, cond astrorun.Condition) bool {
	if c.matcher == nil || cond.IsZero() {
		return true
	}
	ok, err := c.matcher.IsMatch(cond, c.Event)
	if err != nil {
		c.Logger.Warn("condition evaluation failed, treating as matched", "id", id, "error", err)
		return true
	}
	return ok
}

func (c *Context) finish(id astrorun.StepId, result astrorun.RunResult, startedAt *time.Time) astrorun.StepRunResult {
	completedAt := time.Now()
	state := result.State()

	var exitCode *int32
	if state == astrorun.StateFailed {
		code := result.ExitCode
		exitCode = &code
	}

	c.emitStateChange(id.String(), state)

	stepResult := astrorun.StepRunResult{
		Id:          id,
		State:       state,
		ExitCode:    exitCode,
		StartedAt:   startedAt,
		CompletedAt: &completedAt,
	}
	c.Plugins.OnStepCompleted(stepResult)
	c.Runner.OnStepCompleted(stepResult)
	return stepResult
}

func (c *Context) synthesizeFailure(id astrorun.StepId, err error) astrorun.StepRunResult {
	c.Logger.Warn("step failed before execution", "step", id.String(), "error", err)
	now := time.Now()
	return c.finish(id, astrorun.Failed(1), &now)
}

// CancelJob fires the signal of every currently running step under jobID.
// Steps of the job that have not started yet enter the cancelled-skip
// path once the job's state flips.
func (c *Context) CancelJob(jobID astrorun.JobId) {
	prefix := jobID.String() + "/"
	for _, sig := range c.Signals.RunningUnder(prefix) {
		_ = sig.Cancel()
	}
}
