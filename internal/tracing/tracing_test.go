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

package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupStdoutExporter(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Exporter: "stdout", ServiceName: "test"})
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, span := Tracer("test").Start(context.Background(), "unit-test-span")
	span.End()
}
