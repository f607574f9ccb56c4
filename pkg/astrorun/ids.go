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

// Package astrorun holds the portable workflow engine's core types:
// identifiers, the AST, conditions, environment variables, and run
// results. The execution driver and its builder façade live in the exec
// subpackage.
package astrorun

import (
	"fmt"
	"strconv"
	"strings"
)

// WorkflowId identifies a single workflow instance.
type WorkflowId string

// String returns the canonical textual form.
func (id WorkflowId) String() string {
	return string(id)
}

// JobId identifies a job within a workflow, in canonical form "workflow/key".
type JobId struct {
	Workflow WorkflowId
	Key      string
}

// NewJobId builds a JobId from its parts.
func NewJobId(workflow WorkflowId, key string) JobId {
	return JobId{Workflow: workflow, Key: key}
}

// String returns the canonical textual form "workflow/key".
func (id JobId) String() string {
	return fmt.Sprintf("%s/%s", id.Workflow, id.Key)
}

// ParseJobId parses the canonical "workflow/key" form.
func ParseJobId(s string) (JobId, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return JobId{}, fmt.Errorf("astrorun: invalid job id %q", s)
	}
	return JobId{Workflow: WorkflowId(parts[0]), Key: parts[1]}, nil
}

// StepId identifies a step within a job, in canonical form "workflow/key/index".
type StepId struct {
	Workflow WorkflowId
	Key      string
	Index    int
}

// NewStepId builds a StepId from its parts.
func NewStepId(workflow WorkflowId, key string, index int) StepId {
	return StepId{Workflow: workflow, Key: key, Index: index}
}

// Job returns the JobId this step belongs to.
func (id StepId) Job() JobId {
	return JobId{Workflow: id.Workflow, Key: id.Key}
}

// String returns the canonical textual form "workflow/key/index".
func (id StepId) String() string {
	return fmt.Sprintf("%s/%s/%d", id.Workflow, id.Key, id.Index)
}

// ParseStepId parses the canonical "workflow/key/index" form.
func ParseStepId(s string) (StepId, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return StepId{}, fmt.Errorf("astrorun: invalid step id %q", s)
	}
	index, err := strconv.Atoi(parts[2])
	if err != nil {
		return StepId{}, fmt.Errorf("astrorun: invalid step id %q: %w", s, err)
	}
	return StepId{Workflow: WorkflowId(parts[0]), Key: parts[1], Index: index}, nil
}
