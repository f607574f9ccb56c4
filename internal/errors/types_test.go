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

package errors_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	astroerrors "github.com/panghu-huang/astro-run-sub000/internal/errors"
)

func TestWorkflowConfigError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *astroerrors.WorkflowConfigError
		wantMsg string
	}{
		{
			name: "with field",
			err: &astroerrors.WorkflowConfigError{
				Field:   "jobs.build.steps[0].run",
				Message: "required field is missing",
			},
			wantMsg: "workflow config error on jobs.build.steps[0].run: required field is missing",
		},
		{
			name: "without field",
			err: &astroerrors.WorkflowConfigError{
				Message: "invalid yaml document",
			},
			wantMsg: "workflow config error: invalid yaml document",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("WorkflowConfigError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestNewWorkflowConfigError(t *testing.T) {
	err := astroerrors.NewWorkflowConfigError("step %q has no action", "build")
	want := "workflow config error: step \"build\" has no action"
	if got := err.Error(); got != want {
		t.Errorf("NewWorkflowConfigError().Error() = %q, want %q", got, want)
	}
}

func TestInitError_Error(t *testing.T) {
	err := &astroerrors.InitError{Builder: "WorkflowBuilder", Field: "id"}
	want := `WorkflowBuilder: missing required field "id"`
	if got := err.Error(); got != want {
		t.Errorf("InitError.Error() = %q, want %q", got, want)
	}
}

func TestNotFoundError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *astroerrors.NotFoundError
		wantMsg string
	}{
		{
			name:    "step not found",
			err:     &astroerrors.NotFoundError{Resource: "step", ID: "build/compile"},
			wantMsg: "step not found: build/compile",
		},
		{
			name:    "runner not found",
			err:     &astroerrors.NotFoundError{Resource: "runner", ID: "runner-1"},
			wantMsg: "runner not found: runner-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("NotFoundError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestInternalRuntimeError_Error(t *testing.T) {
	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := &astroerrors.InternalRuntimeError{Message: "dispatch failed", Cause: cause}
		want := "internal runtime error: dispatch failed: connection reset"
		if got := err.Error(); got != want {
			t.Errorf("InternalRuntimeError.Error() = %q, want %q", got, want)
		}
	})

	t.Run("without cause", func(t *testing.T) {
		err := &astroerrors.InternalRuntimeError{Message: "unreachable state"}
		want := "internal runtime error: unreachable state"
		if got := err.Error(); got != want {
			t.Errorf("InternalRuntimeError.Error() = %q, want %q", got, want)
		}
	})
}

func TestInternalRuntimeError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := astroerrors.NewInternalRuntimeError("wrapped", cause)
	if got := err.Unwrap(); got != cause {
		t.Errorf("InternalRuntimeError.Unwrap() = %v, want %v", got, cause)
	}
}

func TestIOError_Error(t *testing.T) {
	cause := errors.New("permission denied")
	err := &astroerrors.IOError{Op: "mkdir", Path: "/workspace/run-1", Cause: cause}
	want := `io error during mkdir "/workspace/run-1": permission denied`
	if got := err.Error(); got != want {
		t.Errorf("IOError.Error() = %q, want %q", got, want)
	}
}

func TestIOError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &astroerrors.IOError{Op: "write", Path: "/tmp/log", Cause: cause}
	if got := err.Unwrap(); got != cause {
		t.Errorf("IOError.Unwrap() = %v, want %v", got, cause)
	}
}

func TestUnsupportedFeatureError_Error(t *testing.T) {
	err := &astroerrors.UnsupportedFeatureError{Feature: "workflow_dispatch trigger"}
	want := "unsupported feature: workflow_dispatch trigger"
	if got := err.Error(); got != want {
		t.Errorf("UnsupportedFeatureError.Error() = %q, want %q", got, want)
	}
}

func TestAlreadyFiredError_Error(t *testing.T) {
	err := &astroerrors.AlreadyFiredError{}
	want := "signal has already been cancelled or timed out"
	if got := err.Error(); got != want {
		t.Errorf("AlreadyFiredError.Error() = %q, want %q", got, want)
	}
}

func TestTimeoutError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *astroerrors.TimeoutError
		wantMsg string
	}{
		{
			name:    "step run timeout",
			err:     &astroerrors.TimeoutError{Operation: "step run", Duration: 30 * time.Second},
			wantMsg: "step run timed out after 30s",
		},
		{
			name:    "drain timeout",
			err:     &astroerrors.TimeoutError{Operation: "drain", Duration: 2 * time.Minute},
			wantMsg: "drain timed out after 2m0s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("TimeoutError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

// Test error wrapping with fmt.Errorf
func TestErrorWrapping(t *testing.T) {
	t.Run("WorkflowConfigError can be wrapped", func(t *testing.T) {
		original := &astroerrors.WorkflowConfigError{Field: "on", Message: "unknown event"}
		wrapped := fmt.Errorf("parsing workflow: %w", original)

		var target *astroerrors.WorkflowConfigError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find WorkflowConfigError in wrapped error")
		}
		if target.Field != "on" {
			t.Errorf("unwrapped error Field = %q, want %q", target.Field, "on")
		}
	})

	t.Run("NotFoundError can be wrapped", func(t *testing.T) {
		original := &astroerrors.NotFoundError{Resource: "job", ID: "test"}
		wrapped := fmt.Errorf("scheduling job: %w", original)

		var target *astroerrors.NotFoundError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find NotFoundError in wrapped error")
		}
		if target.Resource != "job" {
			t.Errorf("unwrapped error Resource = %q, want %q", target.Resource, "job")
		}
	})

	t.Run("InternalRuntimeError preserves cause through wrapping", func(t *testing.T) {
		rootCause := errors.New("socket closed")
		runtimeErr := astroerrors.NewInternalRuntimeError("send failed", rootCause)
		wrapped := fmt.Errorf("dispatching event: %w", runtimeErr)

		var target *astroerrors.InternalRuntimeError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find InternalRuntimeError in wrapped error")
		}
		if target.Unwrap() != rootCause {
			t.Error("InternalRuntimeError.Unwrap() should return root cause")
		}
	})
}

// Test errors.Is behavior
func TestErrorsIs(t *testing.T) {
	t.Run("errors.Is works with wrapped WorkflowConfigError", func(t *testing.T) {
		original := &astroerrors.WorkflowConfigError{Field: "test"}
		wrapped := fmt.Errorf("wrapper: %w", original)

		if !errors.Is(wrapped, original) {
			t.Error("errors.Is should find original error in chain")
		}
	})

	t.Run("errors.Is works with wrapped AlreadyFiredError", func(t *testing.T) {
		original := &astroerrors.AlreadyFiredError{}
		wrapped := fmt.Errorf("wrapper: %w", original)

		if !errors.Is(wrapped, original) {
			t.Error("errors.Is should find original error in chain")
		}
	})
}
