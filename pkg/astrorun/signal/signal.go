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

// Package signal implements the single-delivery cancel/timeout control
// primitive: a step's Signal gates its execution and doubles as the wire
// vehicle for propagating cancellation across the coordinator/runner
// boundary.
package signal

import (
	"sync"

	astroerrors "github.com/panghu-huang/astro-run-sub000/internal/errors"
)

// Action is the value a Signal delivers exactly once.
type Action int

const (
	// Cancel means the step was explicitly cancelled by the caller.
	Cancel Action = iota
	// Timeout means the step's per-step timeout guard fired.
	Timeout
)

// String renders the wire form used by SignalEvent.Action ("cancel"/"timeout").
func (a Action) String() string {
	if a == Timeout {
		return "timeout"
	}
	return "cancel"
}

// ParseAction parses the wire form produced by String.
func ParseAction(s string) (Action, bool) {
	switch s {
	case "cancel":
		return Cancel, true
	case "timeout":
		return Timeout, true
	default:
		return 0, false
	}
}

// Signal is a single-delivery Cancel/Timeout primitive. The zero value is
// not usable; construct with New. Safe for concurrent use.
//
// Recv delivers the fired action to exactly one caller across the
// signal's whole lifetime: once any receiver has observed the value,
// every subsequent Recv call returns a channel that never fires.
type Signal struct {
	mu       sync.Mutex
	fired    bool
	received bool
	action   Action
	waiter   chan Action
}

// New returns a fresh, unfired Signal.
func New() *Signal {
	return &Signal{}
}

// Cancel fires the signal with Cancel. Returns *errors.AlreadyFiredError if
// the signal has already fired.
func (s *Signal) Cancel() error {
	return s.fire(Cancel)
}

// Timeout fires the signal with Timeout. Returns *errors.AlreadyFiredError
// if the signal has already fired.
func (s *Signal) Timeout() error {
	return s.fire(Timeout)
}

func (s *Signal) fire(action Action) error {
	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		return &astroerrors.AlreadyFiredError{}
	}
	s.fired = true
	s.action = action
	waiter := s.waiter
	s.waiter = nil
	if waiter != nil {
		s.received = true
	}
	s.mu.Unlock()

	if waiter != nil {
		waiter <- action
		close(waiter)
	}
	return nil
}

// IsCancelled reports whether the signal has fired with Cancel.
func (s *Signal) IsCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired && s.action == Cancel
}

// IsTimeout reports whether the signal has fired with Timeout.
func (s *Signal) IsTimeout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired && s.action == Timeout
}

// IsFired reports whether the signal has fired, regardless of which action.
func (s *Signal) IsFired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// Recv returns a channel that receives the fired Action exactly once. Only
// the first call whose wait overlaps (or follows) the signal firing
// observes the value; once the signal has been received once, this and
// every later call return a channel that is never closed and never sent
// to, so a receive on it blocks forever. The contract is delivery-once,
// not state-once.
func (s *Signal) Recv() <-chan Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.received {
		return make(chan Action)
	}

	if s.fired {
		s.received = true
		ch := make(chan Action, 1)
		ch <- s.action
		close(ch)
		return ch
	}

	if s.waiter == nil {
		ch := make(chan Action, 1)
		s.waiter = ch
		return ch
	}

	// A second concurrent waiter registered before the first fires; it
	// will simply never see a value, matching the single-receiver
	// used-once contract.
	return make(chan Action)
}
