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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.RunnersSubscribed.Set(3)
	m.StepsDispatched.WithLabelValues("runner-a").Inc()
	m.StepsCompleted.WithLabelValues("succeeded").Inc()
	m.SchedulerPicks.WithLabelValues("runner-a", "docker").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "astrorun_coordinator_runners_subscribed 3")
	assert.Contains(t, body, `astrorun_coordinator_steps_dispatched_total{runner_id="runner-a"} 1`)
	assert.Contains(t, body, `astrorun_coordinator_steps_completed_total{result="succeeded"} 1`)
	assert.Contains(t, body, `astrorun_scheduler_picks_total{class="docker",runner_id="runner-a"} 1`)
}
