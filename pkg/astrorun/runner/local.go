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

package runner

import (
	"context"
	"fmt"
	"strings"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/logstream"
)

// Stub is a Runner whose Run reports which concrete executor a step would
// need (Docker CLI invocation or host process spawning) without actually
// invoking one. It exists so daemon binaries have a concrete Runner to
// wire while no real executor is configured.
type Stub struct {
	BaseRunner
}

// NewStub returns a Stub runner.
func NewStub() *Stub { return &Stub{} }

// Run classifies step as docker- or host-class, logs the command it would
// have executed, and ends the stream as failed: Stub never actually runs
// anything.
func (s *Stub) Run(_ context.Context, rc RunContext) (*logstream.Stream, error) {
	stream := logstream.New()

	class := "docker"
	if rc.Command.Container != nil && strings.HasPrefix(rc.Command.Container.Name, "host/") {
		class = "host"
	}

	stream.Err(fmt.Sprintf("stub runner: no %s executor configured, would have run: %s", class, rc.Command.Run))
	stream.End(astrorun.Failed(1))
	return stream, nil
}
