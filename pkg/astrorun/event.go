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

// WorkflowEvent is the flattened, API-shaped event a workflow run is
// triggered by. Typed payloads (push, pull_request) reduce to this shape
// before being handed to the trigger matcher and execution context.
type WorkflowEvent struct {
	RepoOwner string `json:"repo_owner"`
	RepoName  string `json:"repo_name"`
	Event     string `json:"event"`
	RefName   string `json:"ref_name"`
	Branch    string `json:"branch"`
	Sha       string `json:"sha"`
	PRNumber  *int64 `json:"pr_number,omitempty"`
}

// PushPayload is a typed push-event payload reducible to a WorkflowEvent.
type PushPayload struct {
	RepoOwner string
	RepoName  string
	RefName   string
	Branch    string
	Sha       string
}

// ToEvent reduces the push payload to the flattened API-event shape.
func (p PushPayload) ToEvent() WorkflowEvent {
	return WorkflowEvent{
		RepoOwner: p.RepoOwner,
		RepoName:  p.RepoName,
		Event:     "push",
		RefName:   p.RefName,
		Branch:    p.Branch,
		Sha:       p.Sha,
	}
}

// PullRequestPayload is a typed pull_request-event payload reducible to a
// WorkflowEvent.
type PullRequestPayload struct {
	RepoOwner string
	RepoName  string
	RefName   string
	Branch    string
	Sha       string
	PRNumber  int64
}

// ToEvent reduces the pull-request payload to the flattened API-event shape.
func (p PullRequestPayload) ToEvent() WorkflowEvent {
	prNumber := p.PRNumber
	return WorkflowEvent{
		RepoOwner: p.RepoOwner,
		RepoName:  p.RepoName,
		Event:     "pull_request",
		RefName:   p.RefName,
		Branch:    p.Branch,
		Sha:       p.Sha,
		PRNumber:  &prNumber,
	}
}
