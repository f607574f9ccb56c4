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

package wire_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panghu-huang/astro-run-sub000/internal/wire"
	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := wire.NewEventEnvelope(wire.Event{
		Kind: wire.EventSignal,
		Id:   "wf/job/0",
		Signal: &wire.SignalEvent{Id: "wf/job/0", Action: "cancel"},
	})

	data, err := env.Marshal()
	require.NoError(t, err)

	decoded, err := wire.Decode(data)
	require.NoError(t, err)
	require.NotNil(t, decoded.Event)
	assert.Equal(t, wire.EventSignal, decoded.Event.Kind)
	require.NotNil(t, decoded.Event.Signal)
	assert.Equal(t, "cancel", decoded.Event.Signal.Action)
}

func TestDecodeRejectsMismatchedKind(t *testing.T) {
	_, err := wire.Decode([]byte(`{"kind":"event"}`))
	assert.ErrorIs(t, err, wire.ErrInvalidMessage)
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := wire.Decode([]byte(`{"kind":"bogus"}`))
	assert.ErrorIs(t, err, wire.ErrInvalidMessage)
}

func TestReportRunCompletedEnvelope(t *testing.T) {
	env := wire.NewReportRunCompletedEnvelope("wf/job/0", wire.RunResult{Kind: wire.RunResultFailed, ExitCode: 123})
	data, err := env.Marshal()
	require.NoError(t, err)

	decoded, err := wire.Decode(data)
	require.NoError(t, err)
	require.NotNil(t, decoded.ReportRunCompleted)
	assert.Equal(t, "wf/job/0", decoded.ReportRunCompleted.Id)
	assert.EqualValues(t, 123, decoded.ReportRunCompleted.Result.ExitCode)
}

func TestToWireRunResultRoundTrip(t *testing.T) {
	cases := []astrorun.RunResult{
		astrorun.Succeeded(),
		astrorun.Failed(123),
		astrorun.Cancelled(),
	}
	for _, rr := range cases {
		w := wire.ToWireRunResult(rr)
		back := wire.FromWireRunResult(w)
		assert.Equal(t, rr, back)
	}
}

func TestStepRoundTripPreservesContainerVolumesAndSecurityOpts(t *testing.T) {
	step := astrorun.Step{
		Id:   astrorun.NewStepId("wf", "job", 0),
		Name: "build",
		Container: &astrorun.ContainerOptions{
			Name:         "docker://golang",
			Volumes:      []string{"/src:/src"},
			SecurityOpts: []string{"no-new-privileges"},
		},
		Run:     "go build ./...",
		Timeout: 90 * time.Second,
	}

	payload := wire.ToWireStep(step)
	back, err := wire.FromWireStep(payload)
	require.NoError(t, err)

	require.NotNil(t, back.Container)
	assert.Equal(t, step.Container.Name, back.Container.Name)
	assert.Equal(t, step.Container.Volumes, back.Container.Volumes)
	assert.Equal(t, step.Container.SecurityOpts, back.Container.SecurityOpts)
}

func TestMetadataEnvelopeRoundTrip(t *testing.T) {
	request := wire.NewGetMetadataEnvelope()
	data, err := request.Marshal()
	require.NoError(t, err)

	decoded, err := wire.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, wire.KindGetMetadata, decoded.Kind)

	reply := wire.NewMetadataEnvelope(decoded.CorrelationId, wire.RunnerMetadata{Id: "remote-1", SupportHost: true, Os: "linux"})
	data, err = reply.Marshal()
	require.NoError(t, err)

	decoded, err = wire.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, request.CorrelationId, decoded.CorrelationId)
	require.NotNil(t, decoded.Metadata)
	assert.Equal(t, "remote-1", decoded.Metadata.Id)
}

func TestDecodeRejectsMetadataWithoutPayload(t *testing.T) {
	_, err := wire.Decode([]byte(`{"kind":"metadata"}`))
	assert.ErrorIs(t, err, wire.ErrInvalidMessage)
}

func TestSubscribeEnvelope(t *testing.T) {
	env := wire.NewSubscribeEnvelope(wire.RunnerMetadata{Id: "runner-1", SupportDocker: true, Version: wire.ProtocolVersion})
	data, err := env.Marshal()
	require.NoError(t, err)

	decoded, err := wire.Decode(data)
	require.NoError(t, err)
	require.NotNil(t, decoded.Subscribe)
	assert.Equal(t, "runner-1", decoded.Subscribe.Metadata.Id)
}
