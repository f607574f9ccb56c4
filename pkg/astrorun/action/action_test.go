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

package action_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/action"
)

func TestDriverTryNormalizeUnknownAction(t *testing.T) {
	d := action.NewDriver()
	_, ok, err := d.TryNormalize(astrorun.Step{Uses: "checkout"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDriverTryNormalizeRegistered(t *testing.T) {
	d := action.NewDriver()
	d.Register("checkout", action.Func(func(step astrorun.Step) (action.Expansion, error) {
		return action.Expansion{
			Run: astrorun.Step{Run: "git clone " + step.With["repo"].(string)},
		}, nil
	}))

	expansion, ok, err := d.TryNormalize(astrorun.Step{
		Uses: "checkout",
		With: map[string]any{"repo": "example.git"},
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "git clone example.git", expansion.Run.Run)
}
