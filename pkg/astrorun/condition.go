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

import "gopkg.in/yaml.v3"

// EventCondition is a bare list of event names a workflow/job/step fires on.
type EventCondition []string

// BranchPathCondition filters an event by branch globs and changed-path globs.
// A nil/empty Branches or Paths list means "no filter on that dimension".
type BranchPathCondition struct {
	Branches []string `yaml:"branches,omitempty" json:"branches,omitempty"`
	Paths    []string `yaml:"paths,omitempty" json:"paths,omitempty"`
}

// StructuredCondition is the `{push?, pull_request?}` condition shape.
type StructuredCondition struct {
	Push        *BranchPathCondition `yaml:"push,omitempty" json:"push,omitempty"`
	PullRequest *BranchPathCondition `yaml:"pull_request,omitempty" json:"pull_request,omitempty"`
}

// Condition is either an EventCondition (bare event-name list) or a
// StructuredCondition. Exactly one of the two fields is non-nil once
// decoded; both nil means "no condition configured".
type Condition struct {
	Events     EventCondition
	Structured *StructuredCondition
}

// IsZero reports whether the condition carries no predicate at all.
func (c Condition) IsZero() bool {
	return len(c.Events) == 0 && c.Structured == nil
}

// UnmarshalYAML decodes either a plain string sequence or a mapping shape.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	var events []string
	if err := node.Decode(&events); err == nil {
		c.Events = events
		c.Structured = nil
		return nil
	}

	var structured StructuredCondition
	if err := node.Decode(&structured); err != nil {
		return err
	}
	c.Structured = &structured
	c.Events = nil
	return nil
}

// MarshalYAML encodes the condition back to whichever shape it was decoded from.
func (c Condition) MarshalYAML() (interface{}, error) {
	if c.Structured != nil {
		return c.Structured, nil
	}
	return c.Events, nil
}
