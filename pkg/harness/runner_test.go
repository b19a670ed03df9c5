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
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mitosis-project/repl-stress/pkg/config"
	"github.com/mitosis-project/repl-stress/pkg/probe"
)

func TestRunPassesWithForksAndWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.Forks = 15
	cfg.FaultWorkers = 4
	cfg.MigratorWorkers = 4
	cfg.ChildWorkers = 2

	topo := newFakeTopology(0, 1)
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2})
	r := NewRunner(cfg, fp, topo, inProcess(t, cfg, fp, topo))

	v := r.Run(context.Background())
	require.True(t, v.Pass, "unexpected verdict: %s", v)
	require.Empty(t, v.Reasons)

	s := r.Stats().Snapshot()
	require.Equal(t, int64(15), s.SuccessfulForks)
	require.Equal(t, int64(0), s.FailedForks)
	require.Equal(t, int64(0), s.ThreadFailures)

	require.Len(t, r.Records(), 15)
	for i, rec := range r.Records() {
		require.Equal(t, i, rec.LaunchIndex)
		require.Equal(t, OkExit, rec.Disposition, "%s", rec)
	}

	require.Equal(t, Teardown, r.Phase())
	mask, err := fp.Query()
	require.NoError(t, err)
	require.Equal(t, probe.Disabled, mask)
	// initial enable plus the idempotency check
	require.Equal(t, 2, fp.Enables())
}

func TestRunSequentialCountsExactly(t *testing.T) {
	cfg := testConfig()
	cfg.Variant = config.Sequential
	cfg.Forks = 5
	cfg.FaultWorkers = 3
	cfg.MigratorWorkers = 2

	topo := newFakeTopology(0, 1)
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2})
	r := NewRunner(cfg, fp, topo, inProcess(t, cfg, fp, topo))

	v := r.Run(context.Background())
	require.True(t, v.Pass, "unexpected verdict: %s", v)

	// pre-fork and post-fork pools both run to completion
	s := r.Stats().Snapshot()
	require.Equal(t, int64(2*3*cfg.FaultIterations), s.FaultsCompleted)
	require.Equal(t, int64(2*2*cfg.MigrationCycles), s.MigrationsCompleted)
	require.Equal(t, int64(5), s.SuccessfulForks)
}

func TestRunConcurrentExactCompletion(t *testing.T) {
	cfg := testConfig()
	cfg.ExactCompletion = true
	cfg.PostForkWorkers = false
	cfg.Forks = 3

	topo := newFakeTopology(0, 1)
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2})
	r := NewRunner(cfg, fp, topo, inProcess(t, cfg, fp, topo))

	v := r.Run(context.Background())
	require.True(t, v.Pass, "unexpected verdict: %s", v)

	s := r.Stats().Snapshot()
	require.Equal(t, int64(cfg.FaultWorkers*cfg.FaultIterations), s.FaultsCompleted)
	require.Equal(t, int64(cfg.MigratorWorkers*cfg.MigrationCycles), s.MigrationsCompleted)
}

func TestRunConcurrentDrainsByDefault(t *testing.T) {
	cfg := testConfig()
	cfg.Forks = 3
	require.Equal(t, config.Concurrent, cfg.Variant)

	topo := newFakeTopology(0, 1)
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2})
	r := NewRunner(cfg, fp, topo, inProcess(t, cfg, fp, topo))

	v := r.Run(context.Background())
	require.True(t, v.Pass, "unexpected verdict: %s", v)
	require.Empty(t, r.UpperBounded())

	// pre-fork and post-fork pools both run to completion
	s := r.Stats().Snapshot()
	require.Equal(t, int64(2*cfg.FaultWorkers*cfg.FaultIterations), s.FaultsCompleted)
	require.Equal(t, int64(2*cfg.MigratorWorkers*cfg.MigrationCycles), s.MigrationsCompleted)
}

func TestRunUnfinishedWorkFails(t *testing.T) {
	cfg := testConfig()
	cfg.Forks = 2
	cfg.FaultIterations = 50000000
	cfg.Timeout = config.Duration(500 * time.Millisecond)

	topo := newFakeTopology(0, 1)
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2})
	r := NewRunner(cfg, fp, topo, inProcess(t, cfg, fp, topo))

	v := r.Run(context.Background())
	require.False(t, v.Pass)
	require.Equal(t, 1, countReasons(v, "timeout"), "unexpected verdict: %s", v)
	require.Less(t, r.Stats().Snapshot().FaultsCompleted, int64(cfg.FaultWorkers*cfg.FaultIterations))
}

func TestRunUpperBoundOptIn(t *testing.T) {
	cfg := testConfig()
	cfg.ExactCompletion = false
	cfg.Forks = 2
	cfg.FaultIterations = 1 << 30
	cfg.MigrationCycles = 1 << 30
	cfg.Timeout = config.Duration(500 * time.Millisecond)

	topo := newFakeTopology(0, 1)
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2})
	r := NewRunner(cfg, fp, topo, inProcess(t, cfg, fp, topo))

	// post-fork workers can't finish either, the run times out
	v := r.Run(context.Background())
	require.False(t, v.Pass)
	require.Equal(t, []string{"pre-fork pool", "post-fork pool"}, r.UpperBounded())

	// only the pre-fork pool is bounded when post-fork workers complete
	cfg = testConfig()
	cfg.ExactCompletion = false
	cfg.Forks = 2
	fp = probe.NewFake(probe.FakeOptions{Nodes: 2})
	r = NewRunner(cfg, fp, topo, inProcess(t, cfg, fp, topo))
	v = r.Run(context.Background())
	require.True(t, v.Pass, "unexpected verdict: %s", v)
	require.Equal(t, []string{"pre-fork pool"}, r.UpperBounded())
}

func TestRunBusyDuringInit(t *testing.T) {
	cfg := testConfig()
	topo := newFakeTopology(0, 1)
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2, BusyOnEnable: true})
	r := NewRunner(cfg, fp, topo, inProcess(t, cfg, fp, topo))

	v := r.Run(context.Background())
	require.Equal(t, Verdict{Pass: false, Reasons: []string{"ProbeBusy during Init"}}, v)

	// no workers, no forks
	require.Equal(t, StatsSnapshot{}, r.Stats().Snapshot())
	require.Empty(t, r.Records())
	require.Equal(t, Teardown, r.Phase())
}

func TestRunThreadedReject(t *testing.T) {
	cfg := testConfig()
	cfg.ThreadedEnable = config.ThreadedReject

	topo := newFakeTopology(0, 1)
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2, BusyOnEnable: true})
	r := NewRunner(cfg, fp, topo, inProcess(t, cfg, fp, topo))

	v := r.Run(context.Background())
	require.True(t, v.Pass, "unexpected verdict: %s", v)
	require.Equal(t, StatsSnapshot{}, r.Stats().Snapshot())

	// enabling succeeding is a failure in reject mode
	fp = probe.NewFake(probe.FakeOptions{Nodes: 2})
	r = NewRunner(cfg, fp, topo, inProcess(t, cfg, fp, topo))
	v = r.Run(context.Background())
	require.False(t, v.Pass)
	require.Len(t, v.Reasons, 1)
	require.Contains(t, v.Reasons[0], "expected ProbeBusy")

	mask, err := fp.Query()
	require.NoError(t, err)
	require.Equal(t, probe.Disabled, mask)
}

func TestRunInvalidMask(t *testing.T) {
	cfg := testConfig()
	cfg.EnableMask = 0x10

	topo := newFakeTopology(0, 1)
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2})
	v := NewRunner(cfg, fp, topo, inProcess(t, cfg, fp, topo)).Run(context.Background())
	require.False(t, v.Pass)
	require.Len(t, v.Reasons, 1)
	require.True(t, strings.HasPrefix(v.Reasons[0], "ProbeInvalidArgument during Init"))
}

func TestRunInsufficientNodes(t *testing.T) {
	cfg := testConfig()
	topo := newFakeTopology(0)
	fp := probe.NewFake(probe.FakeOptions{Nodes: 1})

	v := NewRunner(cfg, fp, topo, inProcess(t, cfg, fp, topo)).Run(context.Background())
	require.False(t, v.Pass)
	require.Len(t, v.Reasons, 1)
	require.Contains(t, v.Reasons[0], "insufficient NUMA nodes")
	require.Equal(t, 0, fp.Enables())
}

func TestRunDetectsInheritedState(t *testing.T) {
	cfg := testConfig()
	cfg.Forks = 4

	topo := newFakeTopology(0, 1)
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2, InheritOnFork: true})
	r := NewRunner(cfg, fp, topo, inProcess(t, cfg, fp, topo))

	v := r.Run(context.Background())
	require.False(t, v.Pass)

	require.Len(t, r.Records(), 4)
	for _, rec := range r.Records() {
		require.Equal(t, FailExit, rec.Disposition)
		require.Equal(t, 1, rec.ExitCode)
	}
	// workers and forks themselves were fine
	s := r.Stats().Snapshot()
	require.Equal(t, int64(4), s.SuccessfulForks)
	require.Equal(t, int64(0), s.ThreadFailures)
	require.Len(t, v.Reasons, 4)
}

func TestRunDetectsParentStateChange(t *testing.T) {
	cfg := testConfig()
	cfg.Forks = 15
	cfg.RevalidateEvery = 5

	topo := newFakeTopology(0, 1)
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2})
	dup := &hookDuplicator{
		Duplicator: inProcess(t, cfg, fp, topo),
		hook: func(index int) {
			if index == 3 {
				// corrupt the parent while duplicating
				_ = fp.Disable()
			}
		},
	}
	r := NewRunner(cfg, fp, topo, dup)

	v := r.Run(context.Background())
	require.False(t, v.Pass)
	require.True(t, hasReason(v, "parent state changed"), "unexpected verdict: %s", v)
	require.True(t, hasReason(v, "successful_forks = 6, expected 15"), "unexpected verdict: %s", v)
	require.Len(t, r.Records(), 6)
}

func TestRunTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Forks = 3
	cfg.Timeout = config.Duration(300 * time.Millisecond)

	topo := newFakeTopology(0, 1)
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2})
	dup := &FuncDuplicator{
		Run: func(index int, inherited Phase, abort <-chan struct{}) int {
			<-abort
			return -1
		},
	}
	r := NewRunner(cfg, fp, topo, dup)

	start := time.Now()
	v := r.Run(context.Background())
	require.Less(t, time.Since(start), 30*time.Second)

	require.False(t, v.Pass)
	require.Len(t, r.Records(), 3)
	// one per killed duplicate, one for the run
	require.Equal(t, 4, countReasons(v, "timeout"), "unexpected verdict: %s", v)
	for _, rec := range r.Records() {
		require.Equal(t, AbnormalTermination, rec.Disposition)
	}
}

func TestRunTimeoutDuringForkLoop(t *testing.T) {
	cfg := testConfig()
	cfg.Forks = 10
	cfg.ForkDelay = config.Duration(200 * time.Millisecond)
	cfg.Timeout = config.Duration(300 * time.Millisecond)

	topo := newFakeTopology(0, 1)
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2})
	r := NewRunner(cfg, fp, topo, inProcess(t, cfg, fp, topo))

	v := r.Run(context.Background())
	require.False(t, v.Pass)
	require.Less(t, len(r.Records()), cfg.Forks)
	require.Equal(t, 1, countReasons(v, "timeout"), "unexpected verdict: %s", v)
	require.True(t, hasReason(v, "fork loop interrupted"), "unexpected verdict: %s", v)
}

func TestRunCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Variant = config.Sequential
	cfg.FaultIterations = 1 << 30
	cfg.MigrationCycles = 1 << 30

	topo := newFakeTopology(0, 1)
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2})
	r := NewRunner(cfg, fp, topo, inProcess(t, cfg, fp, topo))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	v := r.Run(ctx)
	require.False(t, v.Pass)
	require.Equal(t, 1, countReasons(v, "timeout"), "unexpected verdict: %s", v)
	require.Empty(t, r.Records())
	require.Equal(t, int64(0), r.Stats().Snapshot().ThreadFailures)
}

// hookDuplicator calls hook before every duplication.
type hookDuplicator struct {
	Duplicator
	hook func(index int)
}

func (d *hookDuplicator) Duplicate(index int, inherited Phase) (Child, error) {
	d.hook(index)
	return d.Duplicator.Duplicate(index, inherited)
}

func countReasons(v Verdict, substr string) int {
	n := 0
	for _, r := range v.Reasons {
		if strings.Contains(r, substr) {
			n++
		}
	}
	return n
}

func hasReason(v Verdict, substr string) bool {
	for _, r := range v.Reasons {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}
