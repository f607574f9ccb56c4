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

// Package scheduler implements the fleet runner selector: sticky job
// affinity for docker-class steps, least-loaded docker selection, and
// exact-match host selection.
package scheduler

import (
	"strings"
	"sync"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
)

// RunnerMetadata describes one fleet member.
type RunnerMetadata struct {
	Id            string
	Os            string
	Arch          string
	SupportDocker bool
	SupportHost   bool
	MaxRuns       int
	Version       string
}

// Fleet is the read side a Scheduler consults to enumerate candidates. A
// concrete coordinator implementation backs this with its live client map.
type Fleet interface {
	Runners() []RunnerMetadata
}

// Scheduler selects a runner for a step, keyed by the step's container
// class, with sticky job→runner affinity for docker-class steps.
type Scheduler struct {
	fleet Fleet

	mu          sync.Mutex
	runsCount   map[string]int
	stepRunners map[string]string
	jobRunners  map[string]string
}

// New returns a Scheduler backed by fleet.
func New(fleet Fleet) *Scheduler {
	return &Scheduler{
		fleet:       fleet,
		runsCount:   make(map[string]int),
		stepRunners: make(map[string]string),
		jobRunners:  make(map[string]string),
	}
}

// hostSelector is the "host/<os>" or "host/<os>-<arch>" shape of a step's
// container field when it requests host-mode execution.
type hostSelector struct {
	os   string
	arch string
}

func parseHostSelector(container *astrorun.ContainerOptions) (hostSelector, bool) {
	if container == nil {
		return hostSelector{}, false
	}
	name := container.Name
	rest, ok := strings.CutPrefix(name, "host/")
	if !ok {
		return hostSelector{}, false
	}
	if os, arch, ok := strings.Cut(rest, "-"); ok {
		return hostSelector{os: os, arch: arch}, true
	}
	return hostSelector{os: rest}, true
}

// Select picks a runner for step under job, in order: sticky job
// affinity, then platform-class selection. ok is false if no runner
// satisfies the step.
func (s *Scheduler) Select(jobID astrorun.JobId, step astrorun.Step) (RunnerMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	host, isHost := parseHostSelector(step.Container)

	runners := s.fleet.Runners()
	byID := make(map[string]RunnerMetadata, len(runners))
	for _, r := range runners {
		byID[r.Id] = r
	}

	if !isHost {
		if stickyID, ok := s.jobRunners[jobID.String()]; ok {
			if r, ok := byID[stickyID]; ok && r.SupportDocker {
				s.assign(step.Id.String(), jobID.String(), r.Id, false)
				return r, true
			}
		}
	}

	var chosen *RunnerMetadata
	if isHost {
		for i := range runners {
			r := runners[i]
			if !r.SupportHost || r.Os != host.os {
				continue
			}
			if host.arch != "" && r.Arch != host.arch {
				continue
			}
			chosen = &r
			break
		}
	} else {
		best := -1
		for i := range runners {
			r := runners[i]
			if !r.SupportDocker {
				continue
			}
			count := s.runsCount[r.Id]
			if best == -1 || count < best {
				best = count
				chosen = &r
			}
		}
	}

	if chosen == nil {
		return RunnerMetadata{}, false
	}

	s.assign(step.Id.String(), jobID.String(), chosen.Id, !isHost)
	return *chosen, true
}

func (s *Scheduler) assign(stepID, jobID, runnerID string, sticky bool) {
	s.runsCount[runnerID]++
	s.stepRunners[stepID] = runnerID
	if sticky {
		s.jobRunners[jobID] = runnerID
	}
}

// OnStepCompleted decrements the run count of the runner that ran stepID
// and clears the step's mapping.
func (s *Scheduler) OnStepCompleted(stepID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runnerID, ok := s.stepRunners[stepID]
	if !ok {
		return
	}
	delete(s.stepRunners, stepID)
	if s.runsCount[runnerID] > 0 {
		s.runsCount[runnerID]--
	}
}

// OnJobCompleted clears jobID's sticky affinity entry.
func (s *Scheduler) OnJobCompleted(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobRunners, jobID)
}
