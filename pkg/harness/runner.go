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
	"time"

	"github.com/pkg/errors"

	"github.com/mitosis-project/repl-stress/pkg/config"
	"github.com/mitosis-project/repl-stress/pkg/probe"
)

const (
	// joinGrace bounds joining stopped workers in Teardown.
	joinGrace = 10 * time.Second

	prePool  = "pre-fork pool"
	postPool = "post-fork pool"
)

// Runner runs the phases of a stress run.
type Runner struct {
	cfg     *config.Harness
	probe   probe.Probe
	topo    Topology
	stats   *ProcessStats
	control *Controller
	orch    *Orchestrator
	agg     *Aggregator

	enabled  bool
	applied  uint64
	pre      *Pool
	preDone  bool
	preExp   int
	records  []*ForkRecord
	expected Expectations
	verdict  *Verdict
}

// NewRunner creates a Runner for the given configuration and collaborators.
func NewRunner(cfg *config.Harness, p probe.Probe, topo Topology, dup Duplicator) *Runner {
	stats := NewProcessStats()
	control := NewController()
	return &Runner{
		cfg:     cfg,
		probe:   p,
		topo:    topo,
		stats:   stats,
		control: control,
		orch:    NewOrchestrator(dup, stats, control),
		agg:     NewAggregator(),
	}
}

// Stats returns the counters of the run.
func (r *Runner) Stats() *ProcessStats {
	return r.stats
}

// Phase returns the current phase of the run.
func (r *Runner) Phase() Phase {
	return r.control.Phase()
}

// Records returns the fork records of the run.
func (r *Runner) Records() []*ForkRecord {
	return r.records
}

// Run runs all phases and returns the verdict. It gives up and fails with
// a timeout once ctx is done or the configured timeout expires.
func (r *Runner) Run(ctx context.Context) Verdict {
	if r.verdict != nil {
		return *r.verdict
	}

	if timeout := r.cfg.Timeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r.expected = Expectations{}
	if err := r.run(ctx); err != nil {
		r.agg.Fail(err)
	}

	v := r.teardown(ctx)
	r.verdict = &v
	return v
}

func (r *Runner) run(ctx context.Context) error {
	if done, err := r.init(); done || err != nil {
		return err
	}

	// PreForkSpawn
	if err := r.control.Advance(PreForkSpawn); err != nil {
		return err
	}
	nodes := r.topo.NodeIDs()
	configs := PlanWorkers(r.cfg, nodes, 0, r.cfg.FaultWorkers, r.cfg.MigratorWorkers, r.applied)
	// Concurrent pre-fork workers are drained before Teardown, unless the
	// run opts out of exact completion and lets Teardown stop them.
	exact := r.cfg.Variant == config.Sequential || r.cfg.ExactCompletion
	r.preExp = r.expect(prePool, configs, exact)
	if !exact {
		log.Info("%s stops at Teardown, its completion counts are upper bounds", prePool)
	}
	r.pre = Spawn(prePool, r.envFor(), configs)

	if r.cfg.Variant == config.Sequential {
		if err := r.joinPre(ctx); err != nil {
			return err
		}
	}

	// ForkStress
	if err := r.control.Advance(ForkStress); err != nil {
		return err
	}
	if r.cfg.Variant == config.Concurrent {
		if err := sleep(ctx, r.cfg.WarmupDelay.Std()); err != nil {
			return err
		}
	}

	before, err := r.probe.Query()
	if err != nil {
		return errors.Wrap(err, "parent state query before forks failed")
	}
	r.expected.Forks = int64(r.cfg.Forks)

	records, ferr := r.orch.Launch(ctx, ForkPlan{
		Count:           r.cfg.Forks,
		Delay:           r.cfg.ForkDelay.Std(),
		RevalidateEvery: r.cfg.RevalidateEvery,
		Revalidate:      r.revalidate,
	})
	r.records = records
	log.Info("launched %d of %d forks", len(records), r.cfg.Forks)
	if ferr != nil {
		r.agg.Fail(ferr)
		if errors.Is(ferr, ErrParentStateChanged) || errors.Is(ferr, ErrTimeout) {
			return nil
		}
	}

	if err := sleep(ctx, r.cfg.SettleDelay.Std()); err != nil {
		return err
	}

	// PostForkValidate
	if err := r.control.Advance(PostForkValidate); err != nil {
		return err
	}
	after, err := r.probe.Query()
	switch {
	case err != nil:
		r.agg.Fail(errors.Wrapf(ErrParentStateChanged, "parent state query after forks failed: %v", err))
	case after != before:
		r.agg.Fail(errors.Wrapf(ErrParentStateChanged, "parent mask %#x after forks, %#x before", after, before))
	}

	if r.cfg.Variant == config.Concurrent && r.cfg.ExactCompletion {
		if err := r.joinPre(ctx); err != nil {
			return err
		}
	}

	if r.cfg.PostForkWorkers {
		postConfigs := PlanWorkers(r.cfg, nodes, len(configs), r.cfg.FaultWorkers, r.cfg.MigratorWorkers, r.applied)
		postExp := r.expect(postPool, postConfigs, true)
		post := Spawn(postPool, r.envFor(), postConfigs)
		results, err := post.Wait(ctx)
		if err != nil {
			r.control.Abort()
			r.expected.Pools[postExp].Exact = false
			if results, err = post.JoinWithin(joinGrace); err == nil {
				r.agg.AddResults(postPool, results...)
			}
			return errors.Wrap(ErrTimeout, "post-fork workers interrupted")
		}
		r.agg.AddResults(postPool, results...)
	}

	if err := r.revalidate(); err != nil {
		r.agg.Fail(errors.Wrapf(ErrParentStateChanged, "after post-fork validation: %v", err))
	}

	return nil
}

// init enables replication and confirms it. It returns true if the run is
// complete without any further phases.
func (r *Runner) init() (bool, error) {
	if n := r.topo.NodeCount(); n < r.cfg.MinNodes {
		return true, errors.Errorf("insufficient NUMA nodes: have %d, need %d", n, r.cfg.MinNodes)
	}

	applied, err := r.probe.Enable(r.cfg.EnableMask)
	switch {
	case err == nil && r.cfg.ThreadedEnable == config.ThreadedReject:
		r.enabled = true
		return true, errors.Errorf("enable succeeded in a multi-threaded process with mask %#x, expected ProbeBusy",
			applied)
	case err == nil:
	case probe.IsBusy(err) && r.cfg.ThreadedEnable == config.ThreadedReject:
		log.Info("enable rejected in a multi-threaded process, as expected")
		return true, nil
	case probe.IsBusy(err):
		log.Error("enable failed: %v", err)
		return true, errors.New("ProbeBusy during Init")
	case probe.IsInvalidArgument(err):
		log.Error("enable failed: %v", err)
		return true, errors.Errorf("ProbeInvalidArgument during Init (mask %#x)", r.cfg.EnableMask)
	default:
		return true, errors.Wrap(err, "enable failed during Init")
	}
	r.enabled = true
	r.applied = applied

	mask, err := r.probe.Query()
	if err != nil {
		return true, errors.Wrap(err, "state query during Init failed")
	}
	if mask == probe.Disabled || mask != applied {
		return true, errors.Errorf("state %#x after enable, applied mask %#x", mask, applied)
	}

	if r.cfg.IdempotentEnable {
		again, err := r.probe.Enable(r.cfg.EnableMask)
		if err != nil {
			return true, errors.Wrapf(err, "repeated enable with mask %#x failed", r.cfg.EnableMask)
		}
		if again != applied {
			return true, errors.Errorf("repeated enable applied %#x, first one %#x", again, applied)
		}
	}

	log.Info("replication enabled, mask %#x", applied)
	return false, nil
}

// revalidate checks that the parent still has replication enabled.
func (r *Runner) revalidate() error {
	mask, err := r.probe.Query()
	if err != nil {
		return err
	}
	if mask == probe.Disabled {
		return errors.New("replication disabled")
	}
	if mask != r.applied {
		return errors.Errorf("mask %#x, expected %#x", mask, r.applied)
	}
	return nil
}

// joinPre drains the pre-fork pool.
func (r *Runner) joinPre(ctx context.Context) error {
	results, err := r.pre.Wait(ctx)
	if err != nil {
		return errors.Wrapf(ErrTimeout, "%v", err)
	}
	r.agg.AddResults(prePool, results...)
	r.preDone = true
	return nil
}

// teardown stops the run, disables replication, joins what is still running
// and computes the verdict.
func (r *Runner) teardown(ctx context.Context) Verdict {
	if r.control.Phase() == PostForkValidate {
		if err := r.control.Advance(Teardown); err != nil {
			r.agg.Fail(err)
		}
	}
	r.control.Abort()

	if r.enabled {
		if err := r.probe.Disable(); err != nil {
			r.agg.Fail(errors.Wrap(err, "parent disable failed"))
		} else if mask, err := r.probe.Query(); err != nil || mask != probe.Disabled {
			r.agg.Fail(errors.Errorf("parent state %#x after disable (%v)", mask, err))
		} else {
			log.Info("replication disabled in parent")
		}
	}

	if r.pre != nil && !r.preDone {
		results, err := r.pre.JoinWithin(joinGrace)
		if err != nil {
			r.agg.Fail(errors.Wrapf(ErrTimeout, "%v", err))
		} else {
			r.agg.AddResults(prePool, results...)
		}
		// stopped before completion, only an upper bound holds
		r.expected.Pools[r.preExp].Exact = false
	}

	// duplicates still running once ctx is done get killed
	r.orch.Collect(ctx, r.records)

	if ctx.Err() != nil && !r.agg.FailedWith(ErrTimeout) {
		r.agg.Fail(ErrTimeout)
	}

	r.agg.Expect(r.expected)

	v := r.agg.Finalize(r.stats, r.records)
	log.Info("%s", r.stats.Snapshot())
	return v
}

// expect adds the bounds of a pool to the expected counts and returns
// the index of its expectation.
func (r *Runner) expect(name string, configs []WorkerConfig, exact bool) int {
	faults, migrations := bounds(configs)
	r.expected.Pools = append(r.expected.Pools, PoolExpectation{
		Name:       name,
		Faults:     faults,
		Migrations: migrations,
		Exact:      exact,
	})
	return len(r.expected.Pools) - 1
}

// UpperBounded returns the pools whose completion counts are only checked
// as upper bounds.
func (r *Runner) UpperBounded() []string {
	names := []string{}
	for _, exp := range r.expected.Pools {
		if !exp.Exact {
			names = append(names, exp.Name)
		}
	}
	return names
}

func (r *Runner) envFor() *Env {
	return &Env{
		Stats:    r.stats,
		Control:  r.control,
		Probe:    r.probe,
		Topology: r.topo,
	}
}

// sleep pauses for d, or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.Wrap(ErrTimeout, "interrupted")
	case <-t.C:
		return nil
	}
}
