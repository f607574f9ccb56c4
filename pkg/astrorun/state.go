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

// State is the lifecycle state of a workflow, job, or step.
type State string

const (
	StatePending    State = "pending"
	StateQueued     State = "queued"
	StateInProgress State = "in_progress"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
	StateSkipped    State = "skipped"
)

// terminalStates is the set of states from which no further transition occurs.
var terminalStates = map[State]struct{}{
	StateSucceeded: {},
	StateFailed:    {},
	StateCancelled: {},
	StateSkipped:   {},
}

// IsTerminal reports whether s is a terminal state.
func (s State) IsTerminal() bool {
	_, ok := terminalStates[s]
	return ok
}
