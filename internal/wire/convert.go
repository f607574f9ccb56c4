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

package wire

import (
	"fmt"
	"time"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/logstream"
)

// ToWireEvent converts a flattened domain event to its wire form.
func ToWireEvent(e astrorun.WorkflowEvent) WorkflowEvent {
	return WorkflowEvent{
		RepoOwner: e.RepoOwner,
		RepoName:  e.RepoName,
		Event:     e.Event,
		RefName:   e.RefName,
		Branch:    e.Branch,
		Sha:       e.Sha,
		PRNumber:  e.PRNumber,
	}
}

// FromWireEvent converts a wire event back to the domain shape.
func FromWireEvent(e WorkflowEvent) astrorun.WorkflowEvent {
	return astrorun.WorkflowEvent{
		RepoOwner: e.RepoOwner,
		RepoName:  e.RepoName,
		Event:     e.Event,
		RefName:   e.RefName,
		Branch:    e.Branch,
		Sha:       e.Sha,
		PRNumber:  e.PRNumber,
	}
}

// ToWireRunResult converts a domain RunResult to its wire tagged union.
func ToWireRunResult(r astrorun.RunResult) RunResult {
	switch r.Kind {
	case astrorun.RunSucceeded:
		return RunResult{Kind: RunResultSucceeded}
	case astrorun.RunCancelled:
		return RunResult{Kind: RunResultCancelled}
	default:
		return RunResult{Kind: RunResultFailed, ExitCode: r.ExitCode}
	}
}

// FromWireRunResult converts a wire RunResult back to the domain shape.
func FromWireRunResult(r RunResult) astrorun.RunResult {
	switch r.Kind {
	case RunResultSucceeded:
		return astrorun.Succeeded()
	case RunResultCancelled:
		return astrorun.Cancelled()
	default:
		return astrorun.Failed(r.ExitCode)
	}
}

// ToWireStepResult converts a domain StepRunResult to its wire form.
func ToWireStepResult(r astrorun.StepRunResult) StepResult {
	out := StepResult{Id: r.Id.String(), State: string(r.State), ExitCode: r.ExitCode}
	if r.StartedAt != nil {
		out.StartedAt = formatTime(*r.StartedAt)
	}
	if r.CompletedAt != nil {
		out.CompletedAt = formatTime(*r.CompletedAt)
	}
	return out
}

// ToWireJobResult converts a domain JobRunResult to its wire form.
func ToWireJobResult(r astrorun.JobRunResult) JobResult {
	steps := make([]StepResult, 0, len(r.Steps))
	for _, sr := range r.Steps {
		steps = append(steps, ToWireStepResult(sr))
	}
	return JobResult{Id: r.Id.String(), State: string(r.State), Steps: steps}
}

// ToWireWorkflowResult converts a domain WorkflowRunResult to its wire form.
func ToWireWorkflowResult(r astrorun.WorkflowRunResult) WorkflowResult {
	jobs := make(map[string]JobResult, len(r.Jobs))
	for key, jr := range r.Jobs {
		jobs[key] = ToWireJobResult(jr)
	}
	return WorkflowResult{Id: r.Id.String(), State: string(r.State), Jobs: jobs}
}

func formatTime(t time.Time) *string {
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

// ToWireStep converts a domain command step to its wire form.
func ToWireStep(step astrorun.Step) StepPayload {
	envs := make(map[string]string, len(step.Environments))
	for k, v := range step.Environments {
		envs[k] = v.String()
	}
	var container *ContainerPayload
	if step.Container != nil {
		container = &ContainerPayload{
			Name:         step.Container.Name,
			Volumes:      step.Container.Volumes,
			SecurityOpts: step.Container.SecurityOpts,
		}
	}
	return StepPayload{
		Id:              step.Id.String(),
		Name:            step.Name,
		Container:       container,
		Run:             step.Run,
		Uses:            step.Uses,
		ContinueOnError: step.ContinueOnError,
		Environments:    envs,
		Secrets:         step.Secrets,
		TimeoutSeconds:  int64(step.Timeout.Seconds()),
	}
}

// FromWireStep converts a wire command step back to the domain shape. The
// step carries no `on:`/`with:` payload: by the time it crosses the wire,
// action expansion has already reduced it to a command step.
func FromWireStep(p StepPayload) (astrorun.Step, error) {
	id, err := astrorun.ParseStepId(p.Id)
	if err != nil {
		return astrorun.Step{}, fmt.Errorf("wire: decoding step: %w", err)
	}

	envs := make(astrorun.EnvironmentVariables, len(p.Environments))
	for k, v := range p.Environments {
		envs[k] = astrorun.StringEnv(v)
	}

	var container *astrorun.ContainerOptions
	if p.Container != nil {
		container = &astrorun.ContainerOptions{
			Name:         p.Container.Name,
			Volumes:      p.Container.Volumes,
			SecurityOpts: p.Container.SecurityOpts,
		}
	}

	return astrorun.Step{
		Id:              id,
		Name:            p.Name,
		Container:       container,
		Run:             p.Run,
		Uses:            p.Uses,
		ContinueOnError: p.ContinueOnError,
		Environments:    envs,
		Secrets:         p.Secrets,
		Timeout:         time.Duration(p.TimeoutSeconds) * time.Second,
	}, nil
}

// FromWireStepResult converts a wire StepResult back to the domain shape,
// best-effort: an unparsable id or timestamp is left zero, since broadcast
// results are observer-side data the receiver may not care about.
func FromWireStepResult(r StepResult) astrorun.StepRunResult {
	id, _ := astrorun.ParseStepId(r.Id)
	out := astrorun.StepRunResult{Id: id, State: astrorun.State(r.State), ExitCode: r.ExitCode}
	out.StartedAt = parseTime(r.StartedAt)
	out.CompletedAt = parseTime(r.CompletedAt)
	return out
}

// FromWireJobResult converts a wire JobResult back to the domain shape,
// best-effort like FromWireStepResult.
func FromWireJobResult(r JobResult) astrorun.JobRunResult {
	id, _ := astrorun.ParseJobId(r.Id)
	steps := make([]astrorun.StepRunResult, 0, len(r.Steps))
	for _, sr := range r.Steps {
		steps = append(steps, FromWireStepResult(sr))
	}
	return astrorun.JobRunResult{Id: id, State: astrorun.State(r.State), Steps: steps}
}

// FromWireWorkflowResult converts a wire WorkflowResult back to the domain
// shape, best-effort like FromWireStepResult.
func FromWireWorkflowResult(r WorkflowResult) astrorun.WorkflowRunResult {
	jobs := make(map[string]astrorun.JobRunResult, len(r.Jobs))
	for key, jr := range r.Jobs {
		jobs[key] = FromWireJobResult(jr)
	}
	return astrorun.WorkflowRunResult{Id: astrorun.WorkflowId(r.Id), State: astrorun.State(r.State), Jobs: jobs}
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}

// ToWireLogRecord converts a domain log record to its wire form.
func ToWireLogRecord(stepID string, r logstream.Record) LogRecord {
	kind := "log"
	if r.Kind == logstream.Error {
		kind = "error"
	}
	return LogRecord{
		StepId:  stepID,
		Kind:    kind,
		Message: r.Message,
		Time:    r.Time.UTC().Format(time.RFC3339Nano),
	}
}

// FromWireLogRecord converts a wire log record back to its domain shape.
func FromWireLogRecord(r LogRecord) logstream.Record {
	kind := logstream.Log
	if r.Kind == "error" {
		kind = logstream.Error
	}
	t, _ := time.Parse(time.RFC3339Nano, r.Time)
	return logstream.Record{Kind: kind, Message: r.Message, Time: t}
}
