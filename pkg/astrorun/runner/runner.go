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

// Package runner defines the Runner contract: the boundary every local or
// coordinator-backed execution backend implements. Concrete container/host
// executors are deliberately out of scope here; this package carries the
// interface and a minimal in-process implementation useful for tests and
// examples.
package runner

import (
	"context"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/logstream"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/signal"
)

// RunContext carries everything a Runner needs to execute one step.
type RunContext struct {
	Id      astrorun.StepId
	Command astrorun.Step
	Signal  *signal.Signal
	Event   astrorun.WorkflowEvent
}

// Runner is the contract a backend implements. Run is required; the
// lifecycle hooks are optional observers a runner may use to track its
// own bookkeeping (e.g. scheduler run counts) and default to no-ops.
//
// The runner owns *how* a command executes; the orchestrator (pkg/astrorun/exec)
// owns *whether* and *when*. A well-behaved Run implementation must
// eventually End the returned stream for every call; if it never does,
// the orchestrator's timeout guard fails the step once the timeout
// elapses.
type Runner interface {
	Run(ctx context.Context, rc RunContext) (*logstream.Stream, error)

	OnRunWorkflow(event astrorun.WorkflowEvent)
	OnRunJob(event astrorun.WorkflowEvent)
	OnRunStep(event astrorun.WorkflowEvent)
	OnStepCompleted(result astrorun.StepRunResult)
	OnJobCompleted(result astrorun.JobRunResult)
	OnWorkflowCompleted(result astrorun.WorkflowRunResult)
	OnStateChange(id string, state astrorun.State)
	OnLog(stepID string, record logstream.Record)
}

// BaseRunner implements every optional Runner hook as a no-op. Embed it
// in a concrete runner and override Run plus whichever hooks matter.
type BaseRunner struct{}

func (BaseRunner) OnRunWorkflow(astrorun.WorkflowEvent)          {}
func (BaseRunner) OnRunJob(astrorun.WorkflowEvent)               {}
func (BaseRunner) OnRunStep(astrorun.WorkflowEvent)              {}
func (BaseRunner) OnStepCompleted(astrorun.StepRunResult)        {}
func (BaseRunner) OnJobCompleted(astrorun.JobRunResult)          {}
func (BaseRunner) OnWorkflowCompleted(astrorun.WorkflowRunResult) {}
func (BaseRunner) OnStateChange(string, astrorun.State)          {}
func (BaseRunner) OnLog(string, logstream.Record)                {}
