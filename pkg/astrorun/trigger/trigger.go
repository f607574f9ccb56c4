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

// Package trigger implements the condition matcher: evaluating a
// workflow/job/step `on:` predicate against an event and a repository
// provider's changed-file listing.
package trigger

import (
	"log/slog"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
	astroerrors "github.com/panghu-huang/astro-run-sub000/internal/errors"
)

// ChangedFilesProvider is the external repository-provider collaborator
// the matcher asks for the files changed by an event.
type ChangedFilesProvider interface {
	// GetChangedFiles returns the paths changed by event. Event is either
	// "push" (commit files) or "pull_request" (PR files); any other event
	// must return an *errors.UnsupportedFeatureError.
	GetChangedFiles(event astrorun.WorkflowEvent) ([]string, error)
}

// Payload is the matcher's per-event working state: the event itself plus
// the branch and (lazily fetched, then cached) changed-path set.
type Payload struct {
	Event  astrorun.WorkflowEvent
	Branch string
	Paths  []string
}

// Matcher evaluates Conditions against a Payload, consulting provider for
// changed-file globs. A single Matcher instance caches the payload it
// last resolved for a given event so repeated evaluations (workflow, each
// job, each step) don't re-fetch changed files.
type Matcher struct {
	provider ChangedFilesProvider
	logger   *slog.Logger

	mu            sync.Mutex
	cachedEvent   *astrorun.WorkflowEvent
	cachedPayload *Payload
}

// New returns a Matcher backed by provider. logger may be nil.
func New(provider ChangedFilesProvider, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{provider: provider, logger: logger}
}

// IsMatch decides whether condition matches the given event. An
// unconfigured condition (IsZero) fails open and returns true.
func (m *Matcher) IsMatch(condition astrorun.Condition, event astrorun.WorkflowEvent) (bool, error) {
	if condition.IsZero() {
		return true, nil
	}

	if len(condition.Events) > 0 {
		for _, e := range condition.Events {
			if e == event.Event {
				return true, nil
			}
		}
		return false, nil
	}

	structured := condition.Structured
	switch event.Event {
	case "push":
		if structured.Push == nil {
			return true, nil
		}
		return m.matchBranchPath(*structured.Push, event)
	case "pull_request":
		if structured.PullRequest == nil {
			return true, nil
		}
		return m.matchBranchPath(*structured.PullRequest, event)
	default:
		return false, nil
	}
}

func (m *Matcher) matchBranchPath(cond astrorun.BranchPathCondition, event astrorun.WorkflowEvent) (bool, error) {
	if !m.matchGlobs(cond.Branches, event.Branch) {
		return false, nil
	}

	if len(cond.Paths) == 0 {
		return true, nil
	}

	// No repository provider configured: the path filter cannot be
	// evaluated, so the matcher fails open rather than blocking the run.
	if m.provider == nil {
		return true, nil
	}

	paths, err := m.changedFiles(event)
	if err != nil {
		// A payload-fetch failure (provider outage, unsupported event)
		// also fails open: a broken provider must never block a workflow.
		m.logger.Warn("trigger matcher: changed-files lookup failed, condition matches by default", "event", event.Event, "error", err)
		return true, nil
	}

	for _, path := range paths {
		if m.matchGlobs(cond.Paths, path) {
			return true, nil
		}
	}
	return false, nil
}

// matchGlobs reports whether value matches any of globs. No globs means
// "no filter" (matches). An invalid glob pattern fails closed for that
// single pattern and is logged.
func (m *Matcher) matchGlobs(globs []string, value string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, pattern := range globs {
		ok, err := doublestar.Match(pattern, value)
		if err != nil {
			m.logger.Warn("trigger matcher: invalid glob pattern", "pattern", pattern, "error", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func (m *Matcher) changedFiles(event astrorun.WorkflowEvent) ([]string, error) {
	if event.Event != "push" && event.Event != "pull_request" {
		return nil, &astroerrors.UnsupportedFeatureError{Feature: "changed files for event " + event.Event}
	}

	m.mu.Lock()
	if m.cachedEvent != nil && m.cachedEvent.Sha == event.Sha && m.cachedEvent.Event == event.Event {
		paths := m.cachedPayload.Paths
		m.mu.Unlock()
		return paths, nil
	}
	m.mu.Unlock()

	paths, err := m.provider.GetChangedFiles(event)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cachedEvent = &event
	m.cachedPayload = &Payload{Event: event, Branch: event.Branch, Paths: paths}
	m.mu.Unlock()
	return paths, nil
}
