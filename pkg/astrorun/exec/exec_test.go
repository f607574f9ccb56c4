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

package exec_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/action"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/exec"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/logstream"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/plugin"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/runner"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/signal"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/trigger"
)

// scriptedRunner replays a per-step-key scripted result; steps not listed
// default to Succeeded.
type scriptedRunner struct {
	runner.BaseRunner
	results map[string]astrorun.RunResult
	errs    map[string]error
}

func (r *scriptedRunner) Run(_ context.Context, rc runner.RunContext) (*logstream.Stream, error) {
	key := rc.Command.Run
	if err, ok := r.errs[key]; ok {
		return nil, err
	}

	stream := logstream.New()
	stream.Log("running " + key)

	result, ok := r.results[key]
	if !ok {
		result = astrorun.Succeeded()
	}
	stream.End(result)
	return stream, nil
}

// signalAwareRunner blocks Run until the step's Signal fires, then ends
// the stream the way a well-behaved executor must: Cancel ends Cancelled,
// Timeout ends Failed with the timeout exit code.
type signalAwareRunner struct {
	runner.BaseRunner
}

func (signalAwareRunner) Run(_ context.Context, rc runner.RunContext) (*logstream.Stream, error) {
	stream := logstream.New()
	go func() {
		action := <-rc.Signal.Recv()
		switch action {
		case signal.Timeout:
			stream.End(astrorun.Failed(astrorun.TimeoutExitCode))
		default:
			stream.End(astrorun.Cancelled())
		}
	}()
	return stream, nil
}

type alwaysTrueProvider struct{}

func (alwaysTrueProvider) GetChangedFiles(astrorun.WorkflowEvent) ([]string, error) {
	return nil, nil
}

func newTestContext(t *testing.T, r *scriptedRunner) *exec.Context {
	t.Helper()
	return exec.NewContext(r, plugin.NewDriver(nil), action.NewDriver(), astrorun.WorkflowEvent{Event: "push"}, nil)
}

func TestRunStepSucceeds(t *testing.T) {
	c := newTestContext(t, &scriptedRunner{})
	result := c.RunStep(context.Background(), astrorun.Step{Id: astrorun.NewStepId("wf", "job", 0), Run: "echo hi"})
	assert.Equal(t, astrorun.StateSucceeded, result.State)
	assert.Nil(t, result.ExitCode)
}

func TestRunStepSynchronousErrorFailsWithExitCode1(t *testing.T) {
	c := newTestContext(t, &scriptedRunner{errs: map[string]error{"boom": errors.New("executor unavailable")}})
	result := c.RunStep(context.Background(), astrorun.Step{Id: astrorun.NewStepId("wf", "job", 0), Run: "boom"})
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, astrorun.StateFailed, result.State)
	assert.EqualValues(t, 1, *result.ExitCode)
}

func TestRunJobSkipPolicy(t *testing.T) {
	r := &scriptedRunner{results: map[string]astrorun.RunResult{
		"fails": astrorun.Failed(2),
	}}
	c := newTestContext(t, r)

	job := astrorun.Job{
		Steps: []astrorun.Step{
			{Run: "fails"},
			{Run: "skipped-because-not-continue"},
			{Run: "also-skipped"},
		},
	}

	result := c.RunJob(context.Background(), astrorun.NewJobId("wf", "job"), job)
	require.Len(t, result.Steps, 3)
	assert.Equal(t, astrorun.StateFailed, result.Steps[0].State)
	assert.Equal(t, astrorun.StateSkipped, result.Steps[1].State)
	assert.Equal(t, astrorun.StateSkipped, result.Steps[2].State)
	assert.Equal(t, astrorun.StateFailed, result.State)
}

func TestRunJobContinuesOnErrorWhenFlagged(t *testing.T) {
	r := &scriptedRunner{results: map[string]astrorun.RunResult{
		"fails": astrorun.Failed(2),
	}}
	c := newTestContext(t, r)

	job := astrorun.Job{
		Steps: []astrorun.Step{
			{Run: "fails"},
			{Run: "still-runs", ContinueOnError: true},
		},
	}

	result := c.RunJob(context.Background(), astrorun.NewJobId("wf", "job"), job)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, astrorun.StateFailed, result.Steps[0].State)
	assert.Equal(t, astrorun.StateSucceeded, result.Steps[1].State)
}

func TestRunWorkflowRespectsDependsOn(t *testing.T) {
	c := newTestContext(t, &scriptedRunner{})
	matcher := trigger.New(alwaysTrueProvider{}, nil)

	workflow := astrorun.Workflow{
		Id: "wf",
		Jobs: map[string]astrorun.Job{
			"build": {Steps: []astrorun.Step{{Run: "build"}}},
			"test":  {DependsOn: []string{"build"}, Steps: []astrorun.Step{{Run: "test"}}},
		},
		JobOrder: []string{"build", "test"},
	}

	result := c.RunWorkflow(context.Background(), matcher, workflow)
	assert.Equal(t, astrorun.StateSucceeded, result.State)
	assert.Len(t, result.Jobs, 2)
}

// A push to a non-matching branch skips the whole workflow without
// executing any job.
func TestRunWorkflowSkippedWhenWorkflowConditionDoesNotMatch(t *testing.T) {
	ran := &scriptedRunner{}
	c := newTestContext(t, ran)
	matcher := trigger.New(alwaysTrueProvider{}, nil)

	workflow := astrorun.Workflow{
		Id: "wf",
		On: astrorun.Condition{Structured: &astrorun.StructuredCondition{
			Push: &astrorun.BranchPathCondition{Branches: []string{"main"}},
		}},
		Jobs: map[string]astrorun.Job{
			"test": {Steps: []astrorun.Step{{Run: "test"}}},
		},
		JobOrder: []string{"test"},
	}

	c.Event = astrorun.WorkflowEvent{Event: "push", Branch: "other"}
	result := c.RunWorkflow(context.Background(), matcher, workflow)

	assert.Equal(t, astrorun.StateSkipped, result.State)
	assert.Empty(t, result.Jobs)
}

func TestRunJobSkipsStepWhoseConditionDoesNotMatch(t *testing.T) {
	c := newTestContext(t, &scriptedRunner{})
	matcher := trigger.New(alwaysTrueProvider{}, nil)

	workflow := astrorun.Workflow{
		Id: "wf",
		Jobs: map[string]astrorun.Job{
			"job": {Steps: []astrorun.Step{
				{Run: "always"},
				{Run: "release-only", On: astrorun.Condition{Events: []string{"release"}}},
			}},
		},
		JobOrder: []string{"job"},
	}

	result := c.RunWorkflow(context.Background(), matcher, workflow)
	steps := result.Jobs["job"].Steps
	require.Len(t, steps, 2)
	assert.Equal(t, astrorun.StateSucceeded, steps[0].State)
	assert.Equal(t, astrorun.StateSkipped, steps[1].State)
	assert.Equal(t, astrorun.StateSucceeded, result.Jobs["job"].State)
}

func TestRunWorkflowSkipsJobWhenConditionDoesNotMatch(t *testing.T) {
	c := newTestContext(t, &scriptedRunner{})
	matcher := trigger.New(alwaysTrueProvider{}, nil)

	workflow := astrorun.Workflow{
		Id: "wf",
		Jobs: map[string]astrorun.Job{
			"deploy": {
				On:    astrorun.Condition{Events: []string{"release"}},
				Steps: []astrorun.Step{{Run: "deploy"}},
			},
		},
		JobOrder: []string{"deploy"},
	}

	result := c.RunWorkflow(context.Background(), matcher, workflow)
	assert.Equal(t, astrorun.StateSkipped, result.Jobs["deploy"].State)
	assert.Equal(t, astrorun.StateSkipped, result.State)
}

func TestCancelJobNoRunningStepsIsNoop(t *testing.T) {
	c := newTestContext(t, &scriptedRunner{})
	c.CancelJob(astrorun.NewJobId("wf", "job"))
}

// A step whose runner never ends its stream on its own is terminated by
// the per-step timeout guard with the dedicated timeout exit code.
func TestRunStepTimeoutFailsWithExitCode123(t *testing.T) {
	c := exec.NewContext(signalAwareRunner{}, plugin.NewDriver(nil), action.NewDriver(), astrorun.WorkflowEvent{Event: "push"}, nil)

	step := astrorun.Step{
		Id:      astrorun.NewStepId("wf", "job", 0),
		Run:     "sleep forever",
		Timeout: 10 * time.Millisecond,
	}

	result := c.RunStep(context.Background(), step)
	require.Equal(t, astrorun.StateFailed, result.State)
	require.NotNil(t, result.ExitCode)
	assert.EqualValues(t, astrorun.TimeoutExitCode, *result.ExitCode)
}

// CancelJob fires the signal of a currently running step under that job,
// which ends the step Cancelled.
func TestCancelJobCancelsRunningStep(t *testing.T) {
	c := exec.NewContext(signalAwareRunner{}, plugin.NewDriver(nil), action.NewDriver(), astrorun.WorkflowEvent{Event: "push"}, nil)

	jobID := astrorun.NewJobId("wf", "job")
	done := make(chan astrorun.StepRunResult, 1)
	go func() {
		step := astrorun.Step{Id: astrorun.NewStepId(jobID.Workflow, jobID.Key, 0), Run: "sleep forever"}
		done <- c.RunStep(context.Background(), step)
	}()

	require.Eventually(t, func() bool {
		_, ok := c.Signals.Lookup(astrorun.NewStepId(jobID.Workflow, jobID.Key, 0).String())
		return ok
	}, time.Second, time.Millisecond)

	c.CancelJob(jobID)

	select {
	case result := <-done:
		assert.Equal(t, astrorun.StateCancelled, result.State)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancelled step")
	}
}
