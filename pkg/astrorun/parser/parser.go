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

// Package parser implements the workflow configuration parser: YAML text
// in, a validated astrorun.Workflow out, with job-dependency cycle
// detection and id generation for callers that don't supply one.
package parser

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
	astroerrors "github.com/panghu-huang/astro-run-sub000/internal/errors"
)

// defaultStepTimeout applies when a step omits `timeout:`.
const defaultStepTimeout = 60 * time.Minute

type rawContainer struct {
	Name         string   `yaml:"name"`
	Volumes      []string `yaml:"volumes"`
	SecurityOpts []string `yaml:"security-opts"`
}

type rawStep struct {
	Name            string                                  `yaml:"name"`
	On              astrorun.Condition                      `yaml:"on"`
	Container       *astrorun.ContainerOptions              `yaml:"container"`
	Run             string                                  `yaml:"run"`
	Uses            string                                  `yaml:"uses"`
	With            map[string]any                          `yaml:"with"`
	ContinueOnError bool                                    `yaml:"continue-on-error"`
	Environments    map[string]astrorun.EnvironmentVariable `yaml:"environments"`
	Secrets         []string                                `yaml:"secrets"`
	Timeout         string                                  `yaml:"timeout"`
}

type rawJob struct {
	Name               string                     `yaml:"name"`
	Container          *astrorun.ContainerOptions `yaml:"container"`
	On                 astrorun.Condition         `yaml:"on"`
	DependsOn          []string                   `yaml:"depends-on"`
	WorkingDirectories []string                   `yaml:"working-directories"`
	Steps              []rawStep                  `yaml:"steps"`
}

type rawWorkflow struct {
	Name string             `yaml:"name"`
	On   astrorun.Condition `yaml:"on"`
	Jobs yaml.Node          `yaml:"jobs"`
}

// Parse decodes YAML text into a validated Workflow. If id is empty, a
// fresh uuid is generated.
func Parse(id astrorun.WorkflowId, text string) (astrorun.Workflow, error) {
	var raw rawWorkflow
	if err := yaml.Unmarshal([]byte(text), &raw); err != nil {
		return astrorun.Workflow{}, astroerrors.NewWorkflowConfigError("invalid workflow yaml: %v", err)
	}

	if id == "" {
		id = astrorun.WorkflowId(uuid.New().String())
	}

	jobs, order, err := decodeJobs(id, raw.Jobs)
	if err != nil {
		return astrorun.Workflow{}, err
	}
	if len(jobs) == 0 {
		return astrorun.Workflow{}, astroerrors.NewWorkflowConfigError("workflow must declare at least one job")
	}

	workflow := astrorun.Workflow{
		Id:       id,
		Name:     raw.Name,
		On:       raw.On,
		Jobs:     jobs,
		JobOrder: order,
	}

	if err := validateDAG(workflow); err != nil {
		return astrorun.Workflow{}, err
	}

	return workflow, nil
}

// decodeJobs walks the jobs mapping node in document order so JobOrder
// reflects declaration order (map iteration in Go doesn't).
func decodeJobs(workflowID astrorun.WorkflowId, node yaml.Node) (map[string]astrorun.Job, []string, error) {
	jobs := make(map[string]astrorun.Job)
	var order []string

	if node.Kind == 0 {
		return jobs, order, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, nil, astroerrors.NewWorkflowConfigError("jobs must be a mapping")
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valNode := node.Content[i+1]

		var raw rawJob
		if err := valNode.Decode(&raw); err != nil {
			return nil, nil, astroerrors.NewWorkflowConfigError("job %q: %v", keyNode.Value, err)
		}

		job, err := decodeJob(workflowID, keyNode.Value, raw)
		if err != nil {
			return nil, nil, err
		}

		jobs[keyNode.Value] = job
		order = append(order, keyNode.Value)
	}

	return jobs, order, nil
}

func decodeJob(workflowID astrorun.WorkflowId, key string, raw rawJob) (astrorun.Job, error) {
	if len(raw.Steps) == 0 {
		return astrorun.Job{}, astroerrors.NewWorkflowConfigError("job %q must declare at least one step", key)
	}

	steps := make([]astrorun.Step, 0, len(raw.Steps))
	for i, rs := range raw.Steps {
		if rs.Run == "" && rs.Uses == "" {
			return astrorun.Job{}, astroerrors.NewWorkflowConfigError("job %q step %d: one of run/uses is required", key, i)
		}
		if rs.Run != "" && rs.Uses != "" {
			return astrorun.Job{}, astroerrors.NewWorkflowConfigError("job %q step %d: run and uses are mutually exclusive", key, i)
		}

		timeout := defaultStepTimeout
		if rs.Timeout != "" {
			d, err := time.ParseDuration(rs.Timeout)
			if err != nil {
				return astrorun.Job{}, astroerrors.NewWorkflowConfigError("job %q step %d: invalid timeout %q: %v", key, i, rs.Timeout, err)
			}
			timeout = d
		}

		steps = append(steps, astrorun.Step{
			Id:              astrorun.NewStepId(workflowID, key, i),
			Name:            rs.Name,
			On:              rs.On,
			Container:       rs.Container,
			Run:             rs.Run,
			Uses:            rs.Uses,
			With:            rs.With,
			ContinueOnError: rs.ContinueOnError,
			Environments:    astrorun.EnvironmentVariables(rs.Environments),
			Secrets:         rs.Secrets,
			Timeout:         timeout,
		})
	}

	return astrorun.Job{
		Id:                 astrorun.NewJobId(workflowID, key),
		Name:               raw.Name,
		On:                 raw.On,
		Container:          raw.Container,
		DependsOn:          raw.DependsOn,
		WorkingDirectories: raw.WorkingDirectories,
		Steps:              steps,
	}, nil
}

// validateDAG rejects unknown depends-on targets and dependency cycles.
// A job set where every job has a non-empty depends-on necessarily
// contains a cycle, so the rootless case is caught here too.
func validateDAG(workflow astrorun.Workflow) error {
	for _, key := range workflow.JobOrder {
		for _, dep := range workflow.Jobs[key].DependsOn {
			if _, ok := workflow.Jobs[dep]; !ok {
				return astroerrors.NewWorkflowConfigError("job %q depends on unknown job %q", key, dep)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(workflow.JobOrder))

	var visit func(key string) error
	visit = func(key string) error {
		switch color[key] {
		case gray:
			return astroerrors.NewWorkflowConfigError("job dependency cycle detected at %q", key)
		case black:
			return nil
		}
		color[key] = gray
		for _, dep := range workflow.Jobs[key].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[key] = black
		return nil
	}

	for _, key := range workflow.JobOrder {
		if err := visit(key); err != nil {
			return err
		}
	}
	return nil
}

// Serialize re-encodes a Workflow to YAML text, preserving JobOrder.
func Serialize(workflow astrorun.Workflow) (string, error) {
	var root yaml.Node
	jobsNode := &yaml.Node{Kind: yaml.MappingNode}

	for _, key := range workflow.JobOrder {
		job := workflow.Jobs[key]
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: key}

		valNode := &yaml.Node{}
		if err := valNode.Encode(toRawJob(job)); err != nil {
			return "", fmt.Errorf("astrorun/parser: encode job %q: %w", key, err)
		}
		jobsNode.Content = append(jobsNode.Content, keyNode, valNode)
	}

	doc := struct {
		Name string             `yaml:"name,omitempty"`
		On   astrorun.Condition `yaml:"on,omitempty"`
		Jobs yaml.Node          `yaml:"jobs"`
	}{
		Name: workflow.Name,
		On:   workflow.On,
		Jobs: *jobsNode,
	}

	if err := root.Encode(doc); err != nil {
		return "", fmt.Errorf("astrorun/parser: encode workflow: %w", err)
	}

	out, err := yaml.Marshal(&root)
	if err != nil {
		return "", fmt.Errorf("astrorun/parser: marshal workflow: %w", err)
	}
	return string(out), nil
}

func toRawJob(job astrorun.Job) rawJob {
	steps := make([]rawStep, 0, len(job.Steps))
	for _, s := range job.Steps {
		var timeout string
		if s.Timeout > 0 {
			timeout = s.Timeout.String()
		}
		steps = append(steps, rawStep{
			Name:            s.Name,
			On:              s.On,
			Container:       s.Container,
			Run:             s.Run,
			Uses:            s.Uses,
			With:            s.With,
			ContinueOnError: s.ContinueOnError,
			Environments:    map[string]astrorun.EnvironmentVariable(s.Environments),
			Secrets:         s.Secrets,
			Timeout:         timeout,
		})
	}

	return rawJob{
		Name:               job.Name,
		Container:          job.Container,
		On:                 job.On,
		DependsOn:          job.DependsOn,
		WorkingDirectories: job.WorkingDirectories,
		Steps:              steps,
	}
}
