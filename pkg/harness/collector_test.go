// Copyright 2024 The Mitosis Authors. All Rights Reserved.
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

package harness

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/mitosis-project/repl-stress/pkg/metrics"
	"github.com/mitosis-project/repl-stress/pkg/probe"
)

func TestCollector(t *testing.T) {
	cfg := testConfig()
	cfg.Forks = 2
	topo := newFakeTopology(0, 1)
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2})
	r := NewRunner(cfg, fp, topo, inProcess(t, cfg, fp, topo))

	reg := metrics.NewRegistry()
	require.NoError(t, reg.Register("harness", func() (prometheus.Collector, error) {
		return NewCollector(r), nil
	}))

	v := r.Run(context.Background())
	require.True(t, v.Pass, "unexpected verdict: %s", v)

	g, err := reg.Gatherer()
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	require.NoError(t, metrics.WriteText(buf, g))

	out := buf.String()
	require.Contains(t, out, "repl_stress_successful_forks_total 2")
	require.Contains(t, out, "repl_stress_failed_forks_total 0")
	require.Contains(t, out, "repl_stress_thread_failures_total 0")
	require.Contains(t, out, `repl_stress_phase{phase="Teardown"} 1`)
	require.Contains(t, out, `repl_stress_phase{phase="Init"} 0`)
}
