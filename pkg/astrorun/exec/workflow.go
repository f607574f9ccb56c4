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
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/trigger"
)

// RunWorkflow executes workflow's job DAG: independent jobs run
// concurrently, and a job starts only once every job named in its
// depends-on list has a terminal result. A workflow whose own on:
// condition does not match the event is Skipped with zero jobs executed.
func (c *Context) RunWorkflow(ctx context.Context, matcher *trigger.Matcher, workflow astrorun.Workflow) astrorun.WorkflowRunResult {
	c.matcher = matcher

	ctx, span := tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(attribute.String("workflow.id", workflow.Id.String())))
	defer span.End()

	if !c.conditionMatches(workflow.Id.String(), workflow.On) {
		span.SetAttributes(attribute.String("workflow.state", string(astrorun.StateSkipped)))
		result := astrorun.WorkflowRunResult{
			Id:    workflow.Id,
			State: astrorun.StateSkipped,
			Jobs:  map[string]astrorun.JobRunResult{},
		}
		c.emitStateChange(workflow.Id.String(), astrorun.StateSkipped)
		c.Plugins.OnWorkflowCompleted(result)
		c.Runner.OnWorkflowCompleted(result)
		return result
	}

	startedAt := time.Now()
	c.Plugins.OnRunWorkflow(c.Event)
	c.Runner.OnRunWorkflow(c.Event)

	var (
		mu      sync.Mutex
		results = make(map[string]astrorun.JobRunResult, len(workflow.Jobs))
		done    = make(map[string]chan struct{}, len(workflow.Jobs))
	)
	for _, key := range workflow.JobOrder {
		done[key] = make(chan struct{})
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, key := range workflow.JobOrder {
		key := key
		job := workflow.Jobs[key]

		g.Go(func() error {
			defer close(done[key])

			for _, dep := range job.DependsOn {
				select {
				case <-done[dep]:
				case <-gctx.Done():
					return gctx.Err()
				}
			}

			id := astrorun.NewJobId(workflow.Id, key)

			var result astrorun.JobRunResult
			if c.conditionMatches(id.String(), job.On) {
				result = c.RunJob(gctx, id, job)
			} else {
				result = skippedJob(id)
				c.emitStateChange(id.String(), astrorun.StateSkipped)
			}

			mu.Lock()
			results[key] = result
			mu.Unlock()
			return nil
		})
	}

	// errgroup only reports the first error; job failures are recorded as
	// results, not propagated as Go errors, so this only surfaces context
	// cancellation.
	_ = g.Wait()

	completedAt := time.Now()
	jobResults := make(map[string]astrorun.JobRunResult, len(results))
	for k, v := range results {
		jobResults[k] = v
	}

	finalState := astrorun.RollupWorkflowState(jobResults)
	span.SetAttributes(attribute.String("workflow.state", string(finalState)))
	workflowResult := astrorun.WorkflowRunResult{
		Id:          workflow.Id,
		State:       finalState,
		StartedAt:   &startedAt,
		CompletedAt: &completedAt,
		Jobs:        jobResults,
	}

	c.emitStateChange(workflow.Id.String(), finalState)
	c.Plugins.OnWorkflowCompleted(workflowResult)
	c.Runner.OnWorkflowCompleted(workflowResult)
	return workflowResult
}

func skippedJob(id astrorun.JobId) astrorun.JobRunResult {
	return astrorun.JobRunResult{Id: id, State: astrorun.StateSkipped}
}
