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
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/pkg/errors"

	logger "github.com/mitosis-project/repl-stress/pkg/log"
	"github.com/mitosis-project/repl-stress/pkg/memory"
	"github.com/mitosis-project/repl-stress/pkg/probe"
	"github.com/mitosis-project/repl-stress/pkg/utils/cpuset"
)

// Role is the kind of work a worker does.
type Role int

const (
	// FaultInducer maps, touches and unmaps fresh memory.
	FaultInducer Role = iota
	// NodeMigrator re-pins itself to rotating nodes.
	NodeMigrator
)

func (r Role) String() string {
	switch r {
	case FaultInducer:
		return "fault"
	case NodeMigrator:
		return "migrate"
	}
	return "unknown"
}

const (
	// faultSizeCycle is the number of distinct FaultInducer buffer sizes.
	faultSizeCycle = 16
	// migrationProbeSize and migrationProbeStride shape a migrator's touch.
	migrationProbeSize   = 8192
	migrationProbeStride = 512
)

// Topology is where workers get pinned.
type Topology interface {
	// NodeCount returns the number of NUMA nodes.
	NodeCount() int
	// NodeIDs returns the sorted node ids.
	NodeIDs() []int
	// CPUsOf returns the CPUs of a node.
	CPUsOf(node int) (cpuset.CPUSet, error)
	// PinCaller restricts the calling thread to the CPUs of a node.
	PinCaller(node int) error
	// CurrentNodeOfCaller returns the node the calling thread runs on.
	CurrentNodeOfCaller() (int, error)
}

// WorkerConfig is the private configuration of a single worker.
type WorkerConfig struct {
	ID             int
	Role           Role
	TargetNode     int
	IterationBound int
	// SampleEvery is the number of iterations between state queries.
	SampleEvery int
	// Delay is the pause between two migration cycles.
	Delay time.Duration
	// ExpectedMask is the replication mask enabled for the process.
	ExpectedMask uint64
	// StrictNode requires the current node in the sampled mask.
	StrictNode bool
}

// WorkerResult is the outcome of a single worker.
type WorkerResult struct {
	ID             int
	Role           Role
	CompletedUnits int64
	LocalFailures  int64
	// Err is the failure that terminated the worker, if any.
	Err error
}

// Env is what workers share with each other. Workers read it, never write it.
type Env struct {
	Stats    *ProcessStats
	Control  *Controller
	Probe    probe.Probe
	Topology Topology
}

// worker runs one WorkerConfig.
type worker struct {
	cfg    WorkerConfig
	env    *Env
	nodes  []int
	result WorkerResult
	log    logger.Logger
}

// limited logging for messages repeated in a hot loop
var wlog = logger.RateLimit(logger.NewLogger("worker"), logger.Interval(time.Second))

// runWorker runs a worker to completion and publishes its result.
func runWorker(cfg WorkerConfig, env *Env) WorkerResult {
	// Pinning is per-thread, so the goroutine stays on its thread and exits
	// locked, which discards the pinned thread along with it.
	runtime.LockOSThread()

	if cfg.SampleEvery < 1 {
		cfg.SampleEvery = 1
	}
	w := &worker{
		cfg:    cfg,
		env:    env,
		nodes:  env.Topology.NodeIDs(),
		result: WorkerResult{ID: cfg.ID, Role: cfg.Role},
		log:    wlog,
	}

	defer env.Stats.publish(&w.result)

	var err error
	switch cfg.Role {
	case FaultInducer:
		err = w.induceFaults()
	case NodeMigrator:
		err = w.migrate()
	default:
		err = errors.Errorf("worker #%d: unknown role %d", cfg.ID, cfg.Role)
	}

	if err != nil {
		w.result.LocalFailures++
		w.result.Err = err
		w.log.Error("%s worker #%d failed after %d units: %v",
			cfg.Role, cfg.ID, w.result.CompletedUnits, err)
	} else {
		log.Debug("%s worker #%d completed %d units", cfg.Role, cfg.ID, w.result.CompletedUnits)
	}

	return w.result
}

// induceFaults pins to the target node, then cycles fresh mappings of
// varying size.
func (w *worker) induceFaults() error {
	node := w.cfg.TargetNode
	if err := w.env.Topology.PinCaller(node); err != nil {
		return errors.Wrapf(ErrPinFailure, "fault worker #%d, node #%d: %v", w.cfg.ID, node, err)
	}

	for i := 0; i < w.cfg.IterationBound && w.env.Control.Running(); i++ {
		size := memory.PageSize * (1 + i%faultSizeCycle)
		if err := memory.Cycle(size, memory.PageSize, byte(i)); err != nil {
			return errors.Wrapf(err, "fault worker #%d, iteration %d", w.cfg.ID, i)
		}
		w.result.CompletedUnits++

		if w.result.CompletedUnits%int64(w.cfg.SampleEvery) == 0 {
			if err := w.sample(); err != nil {
				return err
			}
		}
	}

	return nil
}

// migrate re-pins to a rotating node every cycle, checks where it ended up
// and touches a bit of memory there.
func (w *worker) migrate() error {
	for cycle := 0; cycle < w.cfg.IterationBound && w.env.Control.Running(); cycle++ {
		node := w.rotate(cycle)
		if err := w.env.Topology.PinCaller(node); err != nil {
			return errors.Wrapf(ErrPinFailure, "migrate worker #%d, cycle %d, node #%d: %v",
				w.cfg.ID, cycle, node, err)
		}

		actual, err := w.env.Topology.CurrentNodeOfCaller()
		if err != nil {
			return errors.Wrapf(ErrPinFailure, "migrate worker #%d, cycle %d: %v", w.cfg.ID, cycle, err)
		}
		if actual != node {
			return errors.Wrapf(ErrPinFailure, "migrate worker #%d, cycle %d: expected node #%d, on node #%d",
				w.cfg.ID, cycle, node, actual)
		}

		if err := memory.Cycle(migrationProbeSize, migrationProbeStride, byte(cycle)); err != nil {
			return errors.Wrapf(err, "migrate worker #%d, cycle %d", w.cfg.ID, cycle)
		}
		w.result.CompletedUnits++

		if w.result.CompletedUnits%int64(w.cfg.SampleEvery) == 0 {
			if err := w.sample(); err != nil {
				return err
			}
		}

		if w.cfg.Delay > 0 {
			select {
			case <-w.env.Control.Stopped():
				return nil
			case <-time.After(w.cfg.Delay):
			}
		}
	}

	return nil
}

// rotate returns the node for the given cycle, starting at the target node.
// A target outside the topology is returned as is and fails to pin.
func (w *worker) rotate(cycle int) int {
	start := sort.SearchInts(w.nodes, w.cfg.TargetNode)
	if start >= len(w.nodes) || w.nodes[start] != w.cfg.TargetNode {
		return w.cfg.TargetNode
	}
	return w.nodes[(start+cycle)%len(w.nodes)]
}

// sample queries the replication state and compares it to the expectation.
func (w *worker) sample() error {
	mask, err := w.env.Probe.Query()
	if err != nil {
		if !w.env.Control.Running() {
			return nil
		}
		return errors.Wrapf(err, "%s worker #%d: state query failed", w.cfg.Role, w.cfg.ID)
	}

	if reason := w.mismatch(mask); reason != "" {
		// replication gets disabled in Teardown, under running workers
		if !w.env.Control.Running() {
			return nil
		}
		return errors.Wrapf(ErrUnexpectedState, "%s worker #%d after %d units: %s",
			w.cfg.Role, w.cfg.ID, w.result.CompletedUnits, reason)
	}

	return nil
}

func (w *worker) mismatch(mask uint64) string {
	if mask == probe.Disabled {
		return "replication disabled"
	}
	if w.cfg.ExpectedMask != 0 && mask != w.cfg.ExpectedMask {
		return fmt.Sprintf("mask %#x, expected %#x", mask, w.cfg.ExpectedMask)
	}
	if w.cfg.StrictNode {
		node, err := w.env.Topology.CurrentNodeOfCaller()
		if err != nil {
			return fmt.Sprintf("unknown current node: %v", err)
		}
		if node >= 64 || mask&(uint64(1)<<uint(node)) == 0 {
			return fmt.Sprintf("current node #%d not in mask %#x", node, mask)
		}
	}
	return ""
}
