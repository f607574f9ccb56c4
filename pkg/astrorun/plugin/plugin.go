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

// Package plugin implements the plugin driver: an ordered list of
// lifecycle observers/transformers fanned out around workflow/job/step
// boundaries.
package plugin

import (
	"log/slog"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/action"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/logstream"
)

// StateChangeEvent describes a single state transition of a workflow, job,
// or step, identified by its canonical id string.
type StateChangeEvent struct {
	Id    string
	State astrorun.State
}

// Plugin is the full lifecycle hook set a plugin may implement. All hooks
// are optional: embed NoopPlugin to satisfy the interface with no-ops and
// override only the hooks of interest.
type Plugin interface {
	Name() string

	OnRunWorkflow(event astrorun.WorkflowEvent) error
	OnRunJob(event astrorun.WorkflowEvent) error
	// OnBeforeRunStep transforms step before it runs. Returning an error
	// causes the driver to log it and keep the previous step value.
	OnBeforeRunStep(step astrorun.Step) (astrorun.Step, error)
	OnRunStep(event astrorun.WorkflowEvent) error
	OnLog(stepID string, record logstream.Record) error
	OnStateChange(event StateChangeEvent) error
	OnStepCompleted(result astrorun.StepRunResult) error
	OnJobCompleted(result astrorun.JobRunResult) error
	OnWorkflowCompleted(result astrorun.WorkflowRunResult) error
	// OnResolveDynamicAction is the parse-time fallback for an
	// unregistered `uses:` name. Returning ok=false means this plugin has
	// no opinion; the driver tries the next plugin.
	OnResolveDynamicAction(step astrorun.Step) (action.Action, bool)
}

// NoopPlugin implements every Plugin hook as a no-op. Embed it to
// implement only the hooks a concrete plugin cares about.
type NoopPlugin struct{}

func (NoopPlugin) OnRunWorkflow(astrorun.WorkflowEvent) error { return nil }
func (NoopPlugin) OnRunJob(astrorun.WorkflowEvent) error      { return nil }

func (NoopPlugin) OnBeforeRunStep(step astrorun.Step) (astrorun.Step, error) {
	return step, nil
}

func (NoopPlugin) OnRunStep(astrorun.WorkflowEvent) error               { return nil }
func (NoopPlugin) OnLog(string, logstream.Record) error                 { return nil }
func (NoopPlugin) OnStateChange(StateChangeEvent) error                 { return nil }
func (NoopPlugin) OnStepCompleted(astrorun.StepRunResult) error         { return nil }
func (NoopPlugin) OnJobCompleted(astrorun.JobRunResult) error           { return nil }
func (NoopPlugin) OnWorkflowCompleted(astrorun.WorkflowRunResult) error { return nil }

func (NoopPlugin) OnResolveDynamicAction(astrorun.Step) (action.Action, bool) {
	return nil, false
}

// Driver holds an ordered plugin list and fans lifecycle events out to it.
type Driver struct {
	plugins []Plugin
	logger  *slog.Logger
}

// NewDriver returns a Driver with no plugins registered. logger may be nil.
func NewDriver(logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{logger: logger}
}

// Register appends p to the ordered plugin list.
func (d *Driver) Register(p Plugin) {
	d.plugins = append(d.plugins, p)
}

// logErr logs a non-fatal plugin hook error; every fan-out hook swallows
// errors so one bad plugin cannot abort the others.
func (d *Driver) logErr(hook string, p Plugin, err error) {
	if err != nil {
		d.logger.Warn("plugin hook failed", "hook", hook, "plugin", p.Name(), "error", err)
	}
}

func (d *Driver) OnRunWorkflow(event astrorun.WorkflowEvent) {
	for _, p := range d.plugins {
		d.logErr("on_run_workflow", p, p.OnRunWorkflow(event))
	}
}

func (d *Driver) OnRunJob(event astrorun.WorkflowEvent) {
	for _, p := range d.plugins {
		d.logErr("on_run_job", p, p.OnRunJob(event))
	}
}

// OnBeforeRunStep threads step through every plugin's transformer in
// order. On a plugin error, the step from before that plugin ran is kept
// and the error is logged.
func (d *Driver) OnBeforeRunStep(step astrorun.Step) astrorun.Step {
	current := step
	for _, p := range d.plugins {
		next, err := p.OnBeforeRunStep(current)
		if err != nil {
			d.logErr("on_before_run_step", p, err)
			continue
		}
		current = next
	}
	return current
}

func (d *Driver) OnRunStep(event astrorun.WorkflowEvent) {
	for _, p := range d.plugins {
		d.logErr("on_run_step", p, p.OnRunStep(event))
	}
}

func (d *Driver) OnLog(stepID string, record logstream.Record) {
	for _, p := range d.plugins {
		d.logErr("on_log", p, p.OnLog(stepID, record))
	}
}

func (d *Driver) OnStateChange(event StateChangeEvent) {
	for _, p := range d.plugins {
		d.logErr("on_state_change", p, p.OnStateChange(event))
	}
}

func (d *Driver) OnStepCompleted(result astrorun.StepRunResult) {
	for _, p := range d.plugins {
		d.logErr("on_step_completed", p, p.OnStepCompleted(result))
	}
}

func (d *Driver) OnJobCompleted(result astrorun.JobRunResult) {
	for _, p := range d.plugins {
		d.logErr("on_job_completed", p, p.OnJobCompleted(result))
	}
}

func (d *Driver) OnWorkflowCompleted(result astrorun.WorkflowRunResult) {
	for _, p := range d.plugins {
		d.logErr("on_workflow_completed", p, p.OnWorkflowCompleted(result))
	}
}

// ResolveDynamicAction asks each plugin in order to resolve step's `uses:`
// name; the first plugin to return ok=true wins.
func (d *Driver) ResolveDynamicAction(step astrorun.Step) (action.Action, bool) {
	for _, p := range d.plugins {
		if a, ok := p.OnResolveDynamicAction(step); ok {
			return a, true
		}
	}
	return nil, false
}
