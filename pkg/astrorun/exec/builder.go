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

package exec

import (
	"context"
	"log/slog"
	"sync"

	astroerrors "github.com/panghu-huang/astro-run-sub000/internal/errors"
	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/action"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/parser"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/plugin"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/runner"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/trigger"
)

// Builder assembles an Engine: the long-lived façade holding the default
// runner, the ordered plugin list, the registered actions, and the
// repository provider, from which each Workflow run gets its own execution
// context. A runner is required; everything else is optional.
type Builder struct {
	runner   runner.Runner
	plugins  []plugin.Plugin
	actions  map[string]action.Action
	provider trigger.ChangedFilesProvider
	logger   *slog.Logger
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{actions: make(map[string]action.Action)}
}

// WithRunner sets the execution backend every step runs on. Required.
func (b *Builder) WithRunner(r runner.Runner) *Builder {
	b.runner = r
	return b
}

// WithPlugin appends p to the ordered plugin list.
func (b *Builder) WithPlugin(p plugin.Plugin) *Builder {
	b.plugins = append(b.plugins, p)
	return b
}

// WithAction registers a named action expansion.
func (b *Builder) WithAction(name string, a action.Action) *Builder {
	b.actions[name] = a
	return b
}

// WithChangedFilesProvider sets the repository provider consulted by the
// trigger matcher for changed-path conditions. Without one, path
// conditions fail open.
func (b *Builder) WithChangedFilesProvider(p trigger.ChangedFilesProvider) *Builder {
	b.provider = p
	return b
}

// WithLogger sets the logger shared by the engine and its contexts.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Build validates the builder and returns the Engine. A missing runner is
// an *errors.InitError, distinct from workflow-document validation
// failures.
func (b *Builder) Build() (*Engine, error) {
	if b.runner == nil {
		return nil, &astroerrors.InitError{Builder: "exec.Builder", Field: "runner"}
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	plugins := plugin.NewDriver(logger)
	for _, p := range b.plugins {
		plugins.Register(p)
	}

	actions := action.NewDriver()
	for name, a := range b.actions {
		actions.Register(name, a)
	}

	return &Engine{
		runner:   b.runner,
		plugins:  plugins,
		actions:  actions,
		provider: b.provider,
		logger:   logger,
		active:   make(map[astrorun.WorkflowId]*Context),
	}, nil
}

// Engine drives workflow runs against a fixed runner/plugin/action
// configuration. Each Run call gets a fresh execution context; the
// contexts of in-flight runs are tracked so CancelJob can reach them.
type Engine struct {
	runner   runner.Runner
	plugins  *plugin.Driver
	actions  *action.Driver
	provider trigger.ChangedFilesProvider
	logger   *slog.Logger

	mu     sync.Mutex
	active map[astrorun.WorkflowId]*Context
}

// Plugins returns the engine's plugin driver, so callers can register
// additional plugins after Build.
func (e *Engine) Plugins() *plugin.Driver { return e.plugins }

// BuildWorkflow parses a workflow document and resolves every action step
// against the engine's registered actions, falling back to the plugin
// resolution chain; a plugin-resolved action is registered so the run
// finds it again. An action nothing can resolve fails the build with a
// WorkflowConfigError.
func (e *Engine) BuildWorkflow(id astrorun.WorkflowId, text string) (astrorun.Workflow, error) {
	workflow, err := parser.Parse(id, text)
	if err != nil {
		return astrorun.Workflow{}, err
	}

	for _, key := range workflow.JobOrder {
		for i, step := range workflow.Jobs[key].Steps {
			if !step.IsAction() {
				continue
			}
			if _, ok, err := e.actions.TryNormalize(step); ok {
				if err != nil {
					return astrorun.Workflow{}, astroerrors.NewWorkflowConfigError("job %q step %d: action %q: %v", key, i, step.Uses, err)
				}
				continue
			}
			a, ok := e.plugins.ResolveDynamicAction(step)
			if !ok {
				return astrorun.Workflow{}, astroerrors.NewWorkflowConfigError("job %q step %d: unknown action %q", key, i, step.Uses)
			}
			e.actions.Register(step.Uses, a)
		}
	}

	return workflow, nil
}

// Run executes workflow against event and returns the rolled-up result.
// It never returns an error: execution failures are folded into the
// result tree.
func (e *Engine) Run(ctx context.Context, workflow astrorun.Workflow, event astrorun.WorkflowEvent) astrorun.WorkflowRunResult {
	c := NewContext(e.runner, e.plugins, e.actions, event, e.logger)

	e.mu.Lock()
	e.active[workflow.Id] = c
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, workflow.Id)
		e.mu.Unlock()
	}()

	matcher := trigger.New(e.provider, e.logger)
	return c.RunWorkflow(ctx, matcher, workflow)
}

// CancelJob fires the signal of every currently running step under jobID,
// if that job's workflow run is still in flight.
func (e *Engine) CancelJob(jobID astrorun.JobId) {
	e.mu.Lock()
	c := e.active[jobID.Workflow]
	e.mu.Unlock()
	if c != nil {
		c.CancelJob(jobID)
	}
}
