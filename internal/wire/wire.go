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

// Package wire implements the JSON-envelope message contract shared by
// both RPC fabrics: the coordinator-led subscription protocol and the
// inverse remote-runner protocol. Messages travel as a single envelope
// type over gorilla/websocket connections, adapted to a server-push event
// model instead of request/response RPC.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ProtocolVersion is this build's wire protocol version. Subscribing with
// a mismatched version is rejected.
const ProtocolVersion = "1.0"

var (
	// ErrInvalidMessage is returned when an envelope cannot be parsed or
	// fails structural validation.
	ErrInvalidMessage = errors.New("wire: invalid message")

	// ErrVersionMismatch is returned by SubscribeEvents when the runner's
	// declared version does not match ProtocolVersion.
	ErrVersionMismatch = errors.New("wire: protocol version mismatch")
)

// ErrorCode is the coarse wire error taxonomy: a missing payload or a
// version mismatch is invalid_argument, an unknown step id is not_found,
// and everything else is internal.
type ErrorCode string

const (
	ErrorCodeInvalidArgument ErrorCode = "invalid_argument"
	ErrorCodeNotFound        ErrorCode = "not_found"
	ErrorCodeInternal        ErrorCode = "internal"
)

// WireError is the structured error payload carried by an Error envelope.
type WireError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *WireError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// EventKind tags the oneof payload an Event envelope carries.
type EventKind string

const (
	EventRun               EventKind = "run"
	EventRunWorkflow       EventKind = "run_workflow"
	EventRunJob            EventKind = "run_job"
	EventRunStep           EventKind = "run_step"
	EventWorkflowCompleted EventKind = "workflow_completed"
	EventJobCompleted      EventKind = "job_completed"
	EventStepCompleted     EventKind = "step_completed"
	EventStateChange       EventKind = "state_change"
	EventLog               EventKind = "log"
	EventSignal            EventKind = "signal"
	EventError             EventKind = "error"
)

// Event is the single envelope type a coordinator pushes to a subscribed
// runner (or a remote runner pushes back for Run's server stream). Exactly
// one of the typed fields matching Kind is populated; unused fields are
// omitted on the wire.
type Event struct {
	Kind EventKind `json:"event_name"`
	Id   string    `json:"id,omitempty"`

	Run            *RunContext       `json:"run,omitempty"`
	Workflow       *WorkflowPayload  `json:"workflow,omitempty"`
	Job            *JobPayload       `json:"job,omitempty"`
	Step           *StepPayload      `json:"step,omitempty"`
	WorkflowResult *WorkflowResult   `json:"workflow_result,omitempty"`
	JobResult      *JobResult        `json:"job_result,omitempty"`
	StepResult     *StepResult       `json:"step_result,omitempty"`
	StateChange    *StateChangeEvent `json:"state_change,omitempty"`
	Log            *LogRecord        `json:"log,omitempty"`
	Signal         *SignalEvent      `json:"signal,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// RunContext is the wire form of an execution context handed to a runner
// for one step.
type RunContext struct {
	Id      string        `json:"id"`
	Command StepPayload   `json:"command"`
	Event   WorkflowEvent `json:"event"`
}

// ContainerPayload is the wire form of astrorun.ContainerOptions. Volumes
// and security-opts cross the coordinator/runner boundary too, not just
// the container name, so a remote executor can honor them.
type ContainerPayload struct {
	Name         string   `json:"name"`
	Volumes      []string `json:"volumes,omitempty"`
	SecurityOpts []string `json:"security_opts,omitempty"`
}

// StepPayload is the wire form of a command step.
type StepPayload struct {
	Id              string            `json:"id"`
	Name            string            `json:"name,omitempty"`
	Container       *ContainerPayload `json:"container,omitempty"`
	Run             string            `json:"run,omitempty"`
	Uses            string            `json:"uses,omitempty"`
	ContinueOnError bool              `json:"continue_on_error,omitempty"`
	Environments    map[string]string `json:"environments,omitempty"`
	Secrets         []string          `json:"secrets,omitempty"`
	TimeoutSeconds  int64             `json:"timeout_seconds,omitempty"`
}

// JobPayload is the wire form of a job definition.
type JobPayload struct {
	Id        string        `json:"id"`
	Name      string        `json:"name,omitempty"`
	DependsOn []string      `json:"depends_on,omitempty"`
	Steps     []StepPayload `json:"steps,omitempty"`
}

// WorkflowPayload is the wire form of a workflow definition.
type WorkflowPayload struct {
	Id   string       `json:"id"`
	Name string       `json:"name,omitempty"`
	Jobs []JobPayload `json:"jobs,omitempty"`
}

// WorkflowEvent is the wire form of astrorun.WorkflowEvent.
type WorkflowEvent struct {
	RepoOwner string `json:"repo_owner"`
	RepoName  string `json:"repo_name"`
	Event     string `json:"event"`
	RefName   string `json:"ref_name"`
	Branch    string `json:"branch"`
	Sha       string `json:"sha"`
	PRNumber  *int64 `json:"pr_number,omitempty"`
}

// RunResultKind is the wire tag of a RunResult tagged union.
type RunResultKind string

const (
	RunResultSucceeded RunResultKind = "succeeded"
	RunResultFailed    RunResultKind = "failed"
	RunResultCancelled RunResultKind = "cancelled"
)

// RunResult is the wire form of astrorun.RunResult.
type RunResult struct {
	Kind     RunResultKind `json:"kind"`
	ExitCode int32         `json:"exit_code,omitempty"`
}

// StepResult is the wire form of astrorun.StepRunResult.
type StepResult struct {
	Id          string  `json:"id"`
	State       string  `json:"state"`
	ExitCode    *int32  `json:"exit_code,omitempty"`
	StartedAt   *string `json:"started_at,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// JobResult is the wire form of astrorun.JobRunResult.
type JobResult struct {
	Id    string       `json:"id"`
	State string       `json:"state"`
	Steps []StepResult `json:"steps,omitempty"`
}

// WorkflowResult is the wire form of astrorun.WorkflowRunResult.
type WorkflowResult struct {
	Id    string               `json:"id"`
	State string               `json:"state"`
	Jobs  map[string]JobResult `json:"jobs,omitempty"`
}

// StateChangeEvent is the wire form of a plugin.StateChangeEvent.
type StateChangeEvent struct {
	Id    string `json:"id"`
	State string `json:"state"`
}

// LogRecord is the wire form of a WorkflowLog / logstream.Record.
type LogRecord struct {
	StepId  string `json:"step_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Time    string `json:"time"`
}

// SignalEvent is the wire form of a cancel/timeout notification. Action is
// "cancel" or "timeout", matching signal.Action's String form.
type SignalEvent struct {
	Id     string `json:"id"`
	Action string `json:"action"`
}

// RunnerMetadata is a fleet member's self-declared capabilities, sent as
// the payload of SubscribeEvents.
type RunnerMetadata struct {
	Id            string `json:"id"`
	Os            string `json:"os"`
	Arch          string `json:"arch"`
	SupportDocker bool   `json:"support_docker"`
	SupportHost   bool   `json:"support_host"`
	MaxRuns       int    `json:"max_runs"`
	Version       string `json:"version"`
}

// SubscribeRequest is the handshake payload a runner client sends to open
// a SubscribeEvents stream.
type SubscribeRequest struct {
	Metadata RunnerMetadata `json:"metadata"`
}

// ReportLogRequest is the wire form of the ReportLog unary call.
type ReportLogRequest struct {
	Log LogRecord `json:"log"`
}

// ReportRunCompletedRequest is the wire form of the ReportRunCompleted
// unary call. Id is the step id.
type ReportRunCompletedRequest struct {
	Id     string    `json:"id"`
	Result RunResult `json:"result"`
}

// Envelope is the outer frame every message travels in: a correlation id
// (for unary call/response pairing) plus exactly one of an Event push or a
// unary request/response/error payload.
type Envelope struct {
	CorrelationId string `json:"correlation_id"`
	Kind          string `json:"kind"`

	Event              *Event                     `json:"event,omitempty"`
	Subscribe          *SubscribeRequest          `json:"subscribe,omitempty"`
	ReportLog          *ReportLogRequest          `json:"report_log,omitempty"`
	ReportRunCompleted *ReportRunCompletedRequest `json:"report_run_completed,omitempty"`
	Metadata           *RunnerMetadata            `json:"metadata,omitempty"`
	WireErr            *WireError                 `json:"error,omitempty"`
	Ack                bool                       `json:"ack,omitempty"`
}

const (
	KindEvent              = "event"
	KindSubscribe          = "subscribe"
	KindReportLog          = "report_log"
	KindReportRunCompleted = "report_run_completed"
	KindGetMetadata        = "get_metadata"
	KindMetadata           = "metadata"
	KindError              = "error"
	KindAck                = "ack"
)

// NewCorrelationId returns a fresh correlation id for a unary call.
func NewCorrelationId() string { return uuid.New().String() }

// Marshal encodes the envelope to JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a JSON envelope and validates its shape.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks that the envelope carries exactly the payload its Kind
// promises.
func (e *Envelope) Validate() error {
	switch e.Kind {
	case KindEvent:
		if e.Event == nil {
			return fmt.Errorf("%w: event envelope missing payload", ErrInvalidMessage)
		}
	case KindSubscribe:
		if e.Subscribe == nil {
			return fmt.Errorf("%w: subscribe envelope missing payload", ErrInvalidMessage)
		}
	case KindReportLog:
		if e.ReportLog == nil {
			return fmt.Errorf("%w: report_log envelope missing payload", ErrInvalidMessage)
		}
	case KindReportRunCompleted:
		if e.ReportRunCompleted == nil {
			return fmt.Errorf("%w: report_run_completed envelope missing payload", ErrInvalidMessage)
		}
	case KindMetadata:
		if e.Metadata == nil {
			return fmt.Errorf("%w: metadata envelope missing payload", ErrInvalidMessage)
		}
	case KindGetMetadata, KindError, KindAck:
		// no required payload
	default:
		return fmt.Errorf("%w: unknown envelope kind %q", ErrInvalidMessage, e.Kind)
	}
	return nil
}

// NewEventEnvelope wraps an Event for transmission.
func NewEventEnvelope(event Event) *Envelope {
	return &Envelope{Kind: KindEvent, CorrelationId: NewCorrelationId(), Event: &event}
}

// NewSubscribeEnvelope wraps a SubscribeRequest for the initial handshake.
func NewSubscribeEnvelope(metadata RunnerMetadata) *Envelope {
	return &Envelope{Kind: KindSubscribe, CorrelationId: NewCorrelationId(), Subscribe: &SubscribeRequest{Metadata: metadata}}
}

// NewReportLogEnvelope wraps a ReportLogRequest.
func NewReportLogEnvelope(log LogRecord) *Envelope {
	return &Envelope{Kind: KindReportLog, CorrelationId: NewCorrelationId(), ReportLog: &ReportLogRequest{Log: log}}
}

// NewReportRunCompletedEnvelope wraps a ReportRunCompletedRequest.
func NewReportRunCompletedEnvelope(id string, result RunResult) *Envelope {
	return &Envelope{
		Kind:               KindReportRunCompleted,
		CorrelationId:      NewCorrelationId(),
		ReportRunCompleted: &ReportRunCompletedRequest{Id: id, Result: result},
	}
}

// NewGetMetadataEnvelope builds the GetRunnerMetadata request.
func NewGetMetadataEnvelope() *Envelope {
	return &Envelope{Kind: KindGetMetadata, CorrelationId: NewCorrelationId()}
}

// NewMetadataEnvelope answers a GetRunnerMetadata request, replying to
// correlationId.
func NewMetadataEnvelope(correlationId string, metadata RunnerMetadata) *Envelope {
	return &Envelope{Kind: KindMetadata, CorrelationId: correlationId, Metadata: &metadata}
}

// NewErrorEnvelope wraps a WireError, replying to correlationId.
func NewErrorEnvelope(correlationId string, code ErrorCode, message string) *Envelope {
	return &Envelope{Kind: KindError, CorrelationId: correlationId, WireErr: &WireError{Code: code, Message: message}}
}

// NewAckEnvelope acknowledges correlationId with no payload.
func NewAckEnvelope(correlationId string) *Envelope {
	return &Envelope{Kind: KindAck, CorrelationId: correlationId, Ack: true}
}
