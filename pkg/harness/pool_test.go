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
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/mitosis-project/repl-stress/pkg/probe"
)

func TestCounterConservation(t *testing.T) {
	fp, applied := enabledFake(t, 2)
	topo := newFakeTopology(0, 1)
	env := testEnv(fp, topo)

	cfg := testConfig()
	configs := PlanWorkers(cfg, topo.NodeIDs(), 0, 8, 8, applied)
	results := Spawn("test", env, configs).JoinAll()
	require.Len(t, results, 16)

	var faults, migrations int64
	for i, r := range results {
		require.Equal(t, i, r.ID, "results not in spawn order")
		require.NoError(t, r.Err)
		require.Equal(t, int64(0), r.LocalFailures)
		switch r.Role {
		case FaultInducer:
			require.Equal(t, int64(cfg.FaultIterations), r.CompletedUnits)
			faults += r.CompletedUnits
		case NodeMigrator:
			require.Equal(t, int64(cfg.MigrationCycles), r.CompletedUnits)
			migrations += r.CompletedUnits
		}
	}

	s := env.Stats.Snapshot()
	require.Equal(t, faults, s.FaultsCompleted)
	require.Equal(t, migrations, s.MigrationsCompleted)
	require.Equal(t, int64(0), s.ThreadFailures)

	expFaults, expMigrations := bounds(configs)
	require.Equal(t, expFaults, faults)
	require.Equal(t, expMigrations, migrations)
}

func TestPlanWorkersOwnConfigs(t *testing.T) {
	cfg := testConfig()
	configs := PlanWorkers(cfg, []int{0, 1}, 10, 2, 3, 0x3)
	require.Len(t, configs, 5)

	roles := []Role{FaultInducer, FaultInducer, NodeMigrator, NodeMigrator, NodeMigrator}
	nodes := []int{0, 1, 0, 1, 0}
	for i, c := range configs {
		require.Equal(t, 10+i, c.ID)
		require.Equal(t, roles[i], c.Role)
		require.Equal(t, nodes[i], c.TargetNode)
		require.Equal(t, uint64(0x3), c.ExpectedMask)
	}

	// the pool keeps its own copy
	fp, _ := enabledFake(t, 2)
	env := testEnv(fp, newFakeTopology(0, 1))
	p := Spawn("copy", env, configs)
	configs[0].IterationBound = 1 << 30
	configs[0].Role = NodeMigrator
	results := p.JoinAll()
	require.Equal(t, FaultInducer, p.Configs()[0].Role)
	require.Equal(t, int64(cfg.FaultIterations), results[0].CompletedUnits)
}

func TestStopTerminatesWorkers(t *testing.T) {
	fp, applied := enabledFake(t, 2)
	topo := newFakeTopology(0, 1)
	env := testEnv(fp, topo)

	cfg := testConfig()
	cfg.FaultIterations = 1 << 30
	cfg.MigrationCycles = 1 << 30
	cfg.MigrationDelay = 0
	p := Spawn("endless", env, PlanWorkers(cfg, topo.NodeIDs(), 0, 4, 4, applied))

	time.Sleep(50 * time.Millisecond)
	env.Control.Abort()

	results, err := p.JoinWithin(5 * time.Second)
	require.NoError(t, err)
	for _, r := range results {
		require.NoError(t, r.Err)
		require.Less(t, r.CompletedUnits, int64(1<<30))
	}
	require.Equal(t, int64(0), env.Stats.Snapshot().ThreadFailures)
}

func TestPinFailureIsLocal(t *testing.T) {
	fp, applied := enabledFake(t, 2)
	topo := newFakeTopology(0, 1)
	env := testEnv(fp, topo)

	cfg := testConfig()
	configs := PlanWorkers(cfg, topo.NodeIDs(), 0, 2, 2, applied)
	configs[0].TargetNode = 7
	configs[2].TargetNode = 9

	results := Spawn("pin", env, configs).JoinAll()
	for _, i := range []int{0, 2} {
		require.True(t, errors.Is(results[i].Err, ErrPinFailure), "%v", results[i].Err)
		require.Equal(t, int64(1), results[i].LocalFailures)
		require.Equal(t, int64(0), results[i].CompletedUnits)
	}
	// siblings are unaffected
	require.Equal(t, int64(cfg.FaultIterations), results[1].CompletedUnits)
	require.Equal(t, int64(cfg.MigrationCycles), results[3].CompletedUnits)
	require.Equal(t, int64(2), env.Stats.Snapshot().ThreadFailures)
}

func TestMigratorDetectsWrongNode(t *testing.T) {
	fp, applied := enabledFake(t, 2)
	topo := newFakeTopology(0, 1)
	topo.misplace = true
	env := testEnv(fp, topo)

	results := Spawn("misplaced", env, PlanWorkers(testConfig(), topo.NodeIDs(), 0, 0, 1, applied)).JoinAll()
	require.True(t, errors.Is(results[0].Err, ErrPinFailure))
	require.Equal(t, "PinFailure", Kind(results[0].Err))
}

func TestWorkerDetectsUnexpectedState(t *testing.T) {
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2})
	topo := newFakeTopology(0, 1)
	env := testEnv(fp, topo)

	// replication expected but never enabled
	results := Spawn("disabled", env, PlanWorkers(testConfig(), topo.NodeIDs(), 0, 1, 1, 0x3)).JoinAll()
	for _, r := range results {
		require.True(t, errors.Is(r.Err, ErrUnexpectedState), "%v", r.Err)
	}
	require.Equal(t, int64(2), env.Stats.Snapshot().ThreadFailures)

	// the faults run before the first sample are still counted
	cfg := testConfig()
	require.Equal(t, int64(cfg.FaultSampleEvery), results[0].CompletedUnits)
	require.Equal(t, int64(cfg.FaultSampleEvery), env.Stats.Snapshot().FaultsCompleted)
}

func TestStrictNodeMask(t *testing.T) {
	fp := probe.NewFake(probe.FakeOptions{Nodes: 2})
	_, err := fp.Enable(0x1 << 1)
	require.NoError(t, err)
	topo := newFakeTopology(0, 1)
	env := testEnv(fp, topo)

	cfg := testConfig()
	cfg.StrictNodeMask = true
	results := Spawn("strict", env, PlanWorkers(cfg, topo.NodeIDs(), 0, 2, 0, 0x2)).JoinAll()

	// pinned to node 0, outside the mask
	require.True(t, errors.Is(results[0].Err, ErrUnexpectedState))
	// pinned to node 1, inside the mask
	require.NoError(t, results[1].Err)
}

func TestWaitGivesUp(t *testing.T) {
	fp, applied := enabledFake(t, 2)
	topo := newFakeTopology(0, 1)
	env := testEnv(fp, topo)

	cfg := testConfig()
	cfg.MigrationCycles = 1 << 30
	p := Spawn("slow", env, PlanWorkers(cfg, topo.NodeIDs(), 0, 0, 1, applied))

	_, err := p.JoinWithin(10 * time.Millisecond)
	require.Error(t, err)

	env.Control.Abort()
	results, err := p.JoinWithin(5 * time.Second)
	require.NoError(t, err)
	require.Len(t, results, 1)
}
