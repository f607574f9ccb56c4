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

package remoterunner

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/logstream"
	localrunner "github.com/panghu-huang/astro-run-sub000/pkg/astrorun/runner"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/signal"
	"github.com/panghu-huang/astro-run-sub000/internal/wire"
)

// fakeRunner logs one line then ends with a fixed result, optionally
// waiting for its Signal to fire before completing.
type fakeRunner struct {
	localrunner.BaseRunner
	waitForSignal bool
}

func (f *fakeRunner) Run(ctx context.Context, rc localrunner.RunContext) (*logstream.Stream, error) {
	stream := logstream.New()
	go func() {
		stream.Log("running " + rc.Command.Run)
		if f.waitForSignal {
			<-rc.Signal.Recv()
			stream.End(astrorun.Cancelled())
			return
		}
		stream.End(astrorun.Succeeded())
	}()
	return stream, nil
}

func TestRemoteRunnerRunRoundTrip(t *testing.T) {
	srv := NewServer(&fakeRunner{}, wire.RunnerMetadata{Id: "remote-1"}, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	client := NewClient(wsURL, nil)
	require.NoError(t, client.Dial(context.Background()))
	defer client.Close()

	stepID, err := astrorun.ParseStepId("wf/job/0")
	require.NoError(t, err)

	stream, err := client.Run(context.Background(), localrunner.RunContext{
		Id:      stepID,
		Command: astrorun.Step{Id: stepID, Run: "echo hi"},
	})
	require.NoError(t, err)

	record, ok := stream.Next()
	require.True(t, ok)
	assert.Equal(t, "running echo hi", record.Message)

	_, ok = stream.Next()
	assert.False(t, ok)

	result, ended := stream.Result()
	assert.True(t, ended)
	assert.Equal(t, astrorun.RunSucceeded, result.Kind)
}

func TestRemoteRunnerForwardsSignal(t *testing.T) {
	srv := NewServer(&fakeRunner{waitForSignal: true}, wire.RunnerMetadata{Id: "remote-1"}, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	client := NewClient(wsURL, nil)
	require.NoError(t, client.Dial(context.Background()))
	defer client.Close()

	stepID, err := astrorun.ParseStepId("wf/job/0")
	require.NoError(t, err)

	sig := signal.New()

	stream, err := client.Run(context.Background(), localrunner.RunContext{
		Id:      stepID,
		Command: astrorun.Step{Id: stepID, Run: "sleep"},
		Signal:  sig,
	})
	require.NoError(t, err)

	_, ok := stream.Next()
	require.True(t, ok)

	require.NoError(t, sig.Cancel())

	select {
	case <-waitEnded(stream):
	case <-time.After(2 * time.Second):
		t.Fatal("stream never ended after cancel was forwarded")
	}

	result, _ := stream.Result()
	assert.Equal(t, astrorun.RunCancelled, result.Kind)
}

func TestGetRunnerMetadataRoundTrip(t *testing.T) {
	srv := NewServer(&fakeRunner{}, wire.RunnerMetadata{Id: "remote-1", Os: "linux", Arch: "amd64", SupportDocker: true}, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := NewClient("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, client.Dial(context.Background()))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	metadata, err := client.GetRunnerMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", metadata.Id)
	assert.Equal(t, "linux", metadata.Os)
	assert.True(t, metadata.SupportDocker)
	assert.Equal(t, wire.ProtocolVersion, metadata.Version)
}

func TestPoolSchedulesAcrossRemoteRunners(t *testing.T) {
	srvA := httptest.NewServer(NewServer(&fakeRunner{}, wire.RunnerMetadata{Id: "a", SupportDocker: true}, nil))
	defer srvA.Close()
	srvB := httptest.NewServer(NewServer(&fakeRunner{}, wire.RunnerMetadata{Id: "b", SupportDocker: true}, nil))
	defer srvB.Close()

	pool := NewPool(nil)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.Add(ctx, "ws"+strings.TrimPrefix(srvA.URL, "http")))
	require.NoError(t, pool.Add(ctx, "ws"+strings.TrimPrefix(srvB.URL, "http")))

	require.Len(t, pool.Runners(), 2)

	stepID, err := astrorun.ParseStepId("wf/job/0")
	require.NoError(t, err)

	stream, err := pool.Run(context.Background(), localrunner.RunContext{
		Id:      stepID,
		Command: astrorun.Step{Id: stepID, Run: "echo hi"},
	})
	require.NoError(t, err)

	record, ok := stream.Next()
	require.True(t, ok)
	assert.Equal(t, "running echo hi", record.Message)

	_, ok = stream.Next()
	assert.False(t, ok)

	result, ended := stream.Result()
	require.True(t, ended)
	assert.Equal(t, astrorun.RunSucceeded, result.Kind)

	// Completing the step releases its scheduler slot without panicking.
	pool.OnStepCompleted(astrorun.StepRunResult{Id: stepID, State: astrorun.StateSucceeded})
	pool.OnJobCompleted(astrorun.JobRunResult{Id: stepID.Job(), State: astrorun.StateSucceeded})
}

func waitEnded(stream *logstream.Stream) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for !stream.IsEnded() {
			time.Sleep(10 * time.Millisecond)
		}
		close(done)
	}()
	return done
}
