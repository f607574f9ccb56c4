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

import (
	"time"

	"gopkg.in/yaml.v3"
)

// ContainerOptions describes the container a step (or a job's default) runs in.
// A bare `container: name` document shape decodes to ContainerOptions{Name: name}.
type ContainerOptions struct {
	Name         string   `yaml:"name" json:"name"`
	Volumes      []string `yaml:"volumes,omitempty" json:"volumes,omitempty"`
	SecurityOpts []string `yaml:"security-opts,omitempty" json:"security_opts,omitempty"`
}

// UnmarshalYAML accepts either a bare scalar name or the full mapping shape.
func (c *ContainerOptions) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var name string
		if err := node.Decode(&name); err != nil {
			return err
		}
		c.Name = name
		return nil
	}

	type plain ContainerOptions
	var full plain
	if err := node.Decode(&full); err != nil {
		return err
	}
	*c = ContainerOptions(full)
	return nil
}

// Step is a single unit of work within a job: either a command step
// (Run set) or an action step (Uses set). The two are mutually exclusive
// before action expansion; after expansion only command steps remain.
type Step struct {
	Id              StepId
	Name            string
	On              Condition
	Container       *ContainerOptions
	Run             string
	Uses            string
	With            map[string]any
	ContinueOnError bool
	Environments    EnvironmentVariables
	Secrets         []string
	Timeout         time.Duration
}

// IsAction reports whether this step is an unexpanded `uses:` action step.
func (s Step) IsAction() bool {
	return s.Uses != ""
}

// Job is a named collection of steps with dependency and working-directory
// configuration.
type Job struct {
	Id                 JobId
	Name               string
	On                 Condition
	Container          *ContainerOptions
	DependsOn          []string
	WorkingDirectories []string
	Steps              []Step
}

// Workflow is the root of the parsed AST.
type Workflow struct {
	Id    WorkflowId
	Name  string
	On    Condition
	Jobs  map[string]Job
	// JobOrder preserves declared job ordering for deterministic DAG
	// traversal and round-trip serialization, since Go maps do not.
	JobOrder []string
}

// Job looks up a job by its key, returning ok=false if absent.
func (w Workflow) Job(key string) (Job, bool) {
	j, ok := w.Jobs[key]
	return j, ok
}
