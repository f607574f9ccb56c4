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

// Package action implements the action driver: named expansions of a
// `uses:` step into a {pre?, run, post?} triple of command steps.
package action

import (
	"sync"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
)

// Expansion is the {pre?, run, post?} triple an Action normalizes a user
// action step into.
type Expansion struct {
	Pre  *astrorun.Step
	Run  astrorun.Step
	Post *astrorun.Step
}

// Action expands a `uses:` step into the expansion triple.
type Action interface {
	// Normalize expands the given action step. step.Uses names this
	// action; step.With carries its opaque configuration payload.
	Normalize(step astrorun.Step) (Expansion, error)
}

// Func adapts a plain function to the Action interface.
type Func func(step astrorun.Step) (Expansion, error)

// Normalize calls f.
func (f Func) Normalize(step astrorun.Step) (Expansion, error) {
	return f(step)
}

// Driver holds the registered name → Action map and looks actions up by
// the name a step's `uses:` field names.
type Driver struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewDriver returns an empty Driver.
func NewDriver() *Driver {
	return &Driver{actions: make(map[string]Action)}
}

// Register adds or replaces the Action registered under name.
func (d *Driver) Register(name string, a Action) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions[name] = a
}

// TryNormalize expands step if its `uses:` name is registered. ok is false
// if no action is registered under that name; the caller falls back to
// the plugin driver's dynamic-action resolution chain.
func (d *Driver) TryNormalize(step astrorun.Step) (Expansion, bool, error) {
	d.mu.RLock()
	a, ok := d.actions[step.Uses]
	d.mu.RUnlock()
	if !ok {
		return Expansion{}, false, nil
	}

	expansion, err := a.Normalize(step)
	if err != nil {
		return Expansion{}, true, err
	}
	return expansion, true, nil
}
