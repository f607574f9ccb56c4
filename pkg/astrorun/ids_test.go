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

package astrorun_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
)

func TestJobIdRoundTrip(t *testing.T) {
	id := astrorun.NewJobId("wf-1", "build")
	assert.Equal(t, "wf-1/build", id.String())

	parsed, err := astrorun.ParseJobId(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestStepIdRoundTrip(t *testing.T) {
	id := astrorun.NewStepId("wf-1", "build", 2)
	assert.Equal(t, "wf-1/build/2", id.String())

	parsed, err := astrorun.ParseStepId(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Equal(t, astrorun.NewJobId("wf-1", "build"), id.Job())
}

func TestParseJobIdRejectsMalformed(t *testing.T) {
	_, err := astrorun.ParseJobId("no-slash")
	assert.Error(t, err)
}

func TestParseStepIdRejectsMalformed(t *testing.T) {
	_, err := astrorun.ParseStepId("wf-1/build/not-a-number")
	assert.Error(t, err)

	_, err = astrorun.ParseStepId("wf-1/build")
	assert.Error(t, err)
}
