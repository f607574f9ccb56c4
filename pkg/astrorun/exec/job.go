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

package exec

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
)

// RunJob executes job's steps in declaration order, applying the
// skip-policy table below, and returns the rolled-up JobRunResult.
func (c *Context) RunJob(ctx context.Context, id astrorun.JobId, job astrorun.Job) astrorun.JobRunResult {
	startedAt := time.Now()

	ctx, span := tracer.Start(ctx, "job.run",
		trace.WithAttributes(attribute.String("job.id", id.String())))
	defer span.End()

	c.emitStateChange(id.String(), astrorun.StateInProgress)
	c.Plugins.OnRunJob(c.Event)
	c.Runner.OnRunJob(c.Event)

	jobState := astrorun.StateInProgress
	results := make([]astrorun.StepRunResult, 0, len(job.Steps))

	for _, step := range job.Steps {
		if step.Id == (astrorun.StepId{}) {
			step.Id = astrorun.NewStepId(id.Workflow, id.Key, len(results))
		}

		if !shouldExecute(jobState, step.ContinueOnError) || !c.conditionMatches(step.Id.String(), step.On) {
			results = append(results, astrorun.StepRunResult{Id: step.Id, State: astrorun.StateSkipped})
			continue
		}

		result := c.RunStep(ctx, step)
		results = append(results, result)

		switch result.State {
		case astrorun.StateFailed:
			jobState = astrorun.StateFailed
		case astrorun.StateCancelled:
			jobState = astrorun.StateCancelled
		}
	}

	finalState := astrorun.RollupJobState(results)
	span.SetAttributes(attribute.String("job.state", string(finalState)))

	completedAt := time.Now()
	jobResult := astrorun.JobRunResult{
		Id:          id,
		State:       finalState,
		StartedAt:   &startedAt,
		CompletedAt: &completedAt,
		Steps:       results,
	}

	c.emitStateChange(id.String(), finalState)
	c.Plugins.OnJobCompleted(jobResult)
	c.Runner.OnJobCompleted(jobResult)
	return jobResult
}

// shouldExecute decides whether the next step in a job still runs, given
// the job's state so far and that step's continue-on-error setting.
func shouldExecute(jobState astrorun.State, continueOnError bool) bool {
	switch jobState {
	case astrorun.StateInProgress:
		return true
	case astrorun.StateFailed:
		return continueOnError
	default: // Cancelled, Skipped
		return false
	}
}
