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

package astrorun

import "time"

// RunResultKind tags the terminal value a log stream ends with.
type RunResultKind string

const (
	RunSucceeded RunResultKind = "succeeded"
	RunFailed    RunResultKind = "failed"
	RunCancelled RunResultKind = "cancelled"
)

// RunResult is the tagged-union terminal value a log stream ends with.
// ExitCode is only meaningful when Kind is RunFailed.
type RunResult struct {
	Kind     RunResultKind
	ExitCode int32
}

// Succeeded builds a RunResult for a successful run.
func Succeeded() RunResult { return RunResult{Kind: RunSucceeded} }

// Failed builds a RunResult carrying the process exit code.
func Failed(exitCode int32) RunResult { return RunResult{Kind: RunFailed, ExitCode: exitCode} }

// Cancelled builds a RunResult for a cancelled run.
func Cancelled() RunResult { return RunResult{Kind: RunCancelled} }

// TimeoutExitCode is the exit code a step is failed with when its signal
// fired because of a timeout rather than an explicit cancel.
const TimeoutExitCode int32 = 123

// State maps the RunResult's kind to the corresponding terminal State.
func (r RunResult) State() State {
	switch r.Kind {
	case RunSucceeded:
		return StateSucceeded
	case RunCancelled:
		return StateCancelled
	default:
		return StateFailed
	}
}

// StepRunResult is the outcome of running a single step.
type StepRunResult struct {
	Id          StepId
	State       State
	ExitCode    *int32
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// JobRunResult is the outcome of running a job: its own state plus the
// per-step results in declaration order.
type JobRunResult struct {
	Id          JobId
	State       State
	StartedAt   *time.Time
	CompletedAt *time.Time
	Steps       []StepRunResult
}

// WorkflowRunResult is the outcome of a full workflow run.
type WorkflowRunResult struct {
	Id          WorkflowId
	State       State
	StartedAt   *time.Time
	CompletedAt *time.Time
	Jobs        map[string]JobRunResult
}

// RollupJobState computes a job's terminal state from its step results:
// Failed if any step Failed, Cancelled if any step Cancelled (and none
// Failed), else Succeeded.
func RollupJobState(steps []StepRunResult) State {
	sawCancelled := false
	for _, s := range steps {
		switch s.State {
		case StateFailed:
			return StateFailed
		case StateCancelled:
			sawCancelled = true
		}
	}
	if sawCancelled {
		return StateCancelled
	}
	return StateSucceeded
}

// RollupWorkflowState computes a workflow's terminal state from its jobs'
// results: Failed if any job Failed, Cancelled if any job Cancelled and
// none Failed, Skipped if every job Skipped, else Succeeded.
func RollupWorkflowState(jobs map[string]JobRunResult) State {
	if len(jobs) == 0 {
		return StateSkipped
	}

	allSkipped := true
	sawCancelled := false
	for _, j := range jobs {
		if j.State != StateSkipped {
			allSkipped = false
		}
		switch j.State {
		case StateFailed:
			return StateFailed
		case StateCancelled:
			sawCancelled = true
		}
	}
	if allSkipped {
		return StateSkipped
	}
	if sawCancelled {
		return StateCancelled
	}
	return StateSucceeded
}
