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
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/mitosis-project/repl-stress/pkg/config"
	"github.com/mitosis-project/repl-stress/pkg/probe"
	"github.com/mitosis-project/repl-stress/pkg/utils/cpuset"
)

const (
	// exitEnv makes the test binary exit right away with the given code,
	// or sleep until killed if the value is "sleep".
	exitEnv = "HARNESS_TEST_CHILD_EXIT"
)

func TestMain(m *testing.M) {
	if value, ok := os.LookupEnv(exitEnv); ok {
		if value == "sleep" {
			time.Sleep(time.Minute)
			os.Exit(0)
		}
		code, _ := strconv.Atoi(value)
		os.Exit(code)
	}
	os.Exit(m.Run())
}

// fakeTopology pins threads by recording their thread id.
type fakeTopology struct {
	sync.Mutex
	nodes  []int
	pinned map[int]int
	// misplace makes every thread report a node other than its pin.
	misplace bool
}

func newFakeTopology(nodes ...int) *fakeTopology {
	return &fakeTopology{nodes: nodes, pinned: map[int]int{}}
}

func (t *fakeTopology) NodeCount() int {
	return len(t.nodes)
}

func (t *fakeTopology) NodeIDs() []int {
	return append([]int(nil), t.nodes...)
}

func (t *fakeTopology) CPUsOf(node int) (cpuset.CPUSet, error) {
	if !t.has(node) {
		return cpuset.New(), errors.Errorf("no NUMA node #%d", node)
	}
	return cpuset.New(2*node, 2*node+1), nil
}

func (t *fakeTopology) PinCaller(node int) error {
	if !t.has(node) {
		return errors.Errorf("no NUMA node #%d", node)
	}
	t.Lock()
	defer t.Unlock()
	t.pinned[unix.Gettid()] = node
	return nil
}

func (t *fakeTopology) CurrentNodeOfCaller() (int, error) {
	t.Lock()
	defer t.Unlock()
	node, ok := t.pinned[unix.Gettid()]
	if !ok {
		node = t.nodes[0]
	}
	if t.misplace {
		node += 100
	}
	return node, nil
}

func (t *fakeTopology) has(node int) bool {
	for _, n := range t.nodes {
		if n == node {
			return true
		}
	}
	return false
}

// testConfig returns a configuration for quick runs.
func testConfig() *config.Harness {
	cfg := config.Default()
	cfg.ForkDelay = config.Duration(time.Millisecond)
	cfg.WarmupDelay = config.Duration(5 * time.Millisecond)
	cfg.SettleDelay = config.Duration(5 * time.Millisecond)
	cfg.FaultIterations = 200
	cfg.FaultSampleEvery = 50
	cfg.MigrationCycles = 20
	cfg.MigrationSampleEvery = 5
	cfg.MigrationDelay = 0
	cfg.ChildMigrationCycles = 5
	cfg.Timeout = config.Duration(time.Minute)
	cfg.Probe = config.ProbeFake
	return cfg
}

// inProcess returns a duplicator running duplicates on a snapshot of fp.
func inProcess(t *testing.T, cfg *config.Harness, fp *probe.Fake, topo Topology) *FuncDuplicator {
	return &FuncDuplicator{
		Run: func(index int, inherited Phase, abort <-chan struct{}) int {
			err := RunChild(ChildEnv{
				Index:     index,
				Inherited: inherited,
				Config:    cfg,
				Probe:     fp.Fork(),
				Topology:  topo,
				Abort:     abort,
			})
			if err != nil {
				t.Logf("child #%d: %v", index, err)
				return 1
			}
			return 0
		},
	}
}

// testEnv returns an Env for running workers directly.
func testEnv(p probe.Probe, topo Topology) *Env {
	control := NewController()
	_ = control.Advance(PreForkSpawn)
	return &Env{
		Stats:    NewProcessStats(),
		Control:  control,
		Probe:    p,
		Topology: topo,
	}
}

// enabledFake returns a fake probe with replication enabled on all nodes.
func enabledFake(t *testing.T, nodes int) (*probe.Fake, uint64) {
	fp := probe.NewFake(probe.FakeOptions{Nodes: nodes})
	applied, err := fp.Enable(probe.AllNodes)
	if err != nil {
		t.Fatalf("failed to enable fake probe: %v", err)
	}
	return fp, applied
}
