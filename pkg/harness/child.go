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
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/mitosis-project/repl-stress/pkg/config"
	"github.com/mitosis-project/repl-stress/pkg/memory"
	"github.com/mitosis-project/repl-stress/pkg/probe"
)

const (
	// childProbeSize is the size of a duplicate's memory check.
	childProbeSize = 16384
)

// ContractCheck verifies what a fresh duplicate must observe.
type ContractCheck struct {
	Probe      probe.Probe
	Threaded   config.ThreadedEnable
	EnableMask uint64
	// Workers runs a reduced worker pipeline with replication enabled.
	Workers func(applied uint64) error
}

// Check runs the contract: the initial state matches the baseline, the
// duplicate can enable replication on its own, ordinary memory works, and
// replication can be disabled again. Failures of the first two steps end
// the check right away.
func (c *ContractCheck) Check(baselineEnabled bool) error {
	mask, err := c.Probe.Query()
	if err != nil {
		return errors.Wrapf(ErrUnexpectedChildState, "initial state query failed: %v", err)
	}
	if (mask != probe.Disabled) != baselineEnabled {
		return errors.Wrapf(ErrUnexpectedChildState, "initial state %#x, expected %s",
			mask, baselineName(baselineEnabled))
	}

	enabled := false
	applied, err := c.Probe.Enable(c.EnableMask)
	switch {
	case err == nil && c.Threaded == config.ThreadedReject:
		enabled = true
		err = errors.Wrapf(ErrUnexpectedChildState, "enable succeeded with mask %#x, expected %v",
			applied, ErrProbeBusy)
	case err == nil:
		enabled = true
	case probe.IsBusy(err) && c.Threaded == config.ThreadedReject:
		log.Debug("enable rejected as expected: %v", err)
		err = nil
	default:
		return errors.Wrapf(ErrUnexpectedChildState, "independent enable failed: %v", err)
	}

	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}

	if enabled && err == nil {
		mask, err := c.Probe.Query()
		switch {
		case err != nil:
			result = multierror.Append(result, errors.Wrapf(ErrUnexpectedChildState, "state query failed: %v", err))
		case mask == probe.Disabled:
			result = multierror.Append(result, errors.Wrap(ErrUnexpectedChildState, "replication not enabled"))
		}
	}

	if err := memory.Cycle(childProbeSize, 1, 0); err != nil {
		result = multierror.Append(result, err)
	}
	if enabled && c.Workers != nil && result.ErrorOrNil() == nil {
		if err := c.Workers(applied); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if enabled {
		if err := c.Probe.Disable(); err != nil {
			result = multierror.Append(result, errors.Wrapf(ErrUnexpectedChildState, "disable failed: %v", err))
		} else if mask, err := c.Probe.Query(); err != nil || mask != probe.Disabled {
			result = multierror.Append(result, errors.Wrapf(ErrUnexpectedChildState,
				"state %#x after disable (%v)", mask, err))
		}
	}

	return result.ErrorOrNil()
}

func baselineName(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// ChildEnv is what a duplicate starts with.
type ChildEnv struct {
	Index     int
	Inherited Phase
	Config    *config.Harness
	Probe     probe.Probe
	Topology  Topology
	// Abort is closed when the parent gives up on the duplicate.
	Abort <-chan struct{}
}

// RunChild is the entry point of a duplicate.
func RunChild(env ChildEnv) error {
	// Nothing the parent had pending carries over: the inherited phase is
	// cleared before anything else happens.
	inherited := newControllerAt(env.Inherited)
	inherited.ClearInherited()
	if inherited.Running() {
		return errors.Wrapf(ErrUnexpectedChildState, "child #%d: inherited phase %s still running",
			env.Index, env.Inherited)
	}
	log.Debug("child #%d: cleared inherited phase %s", env.Index, env.Inherited)

	check := &ContractCheck{
		Probe:      env.Probe,
		Threaded:   env.Config.ThreadedEnable,
		EnableMask: env.Config.EnableMask,
	}
	if env.Config.ChildWorkers > 0 && env.Topology != nil {
		check.Workers = func(applied uint64) error {
			return runChildWorkers(env, applied)
		}
	}

	if err := check.Check(false); err != nil {
		return errors.Wrapf(err, "child #%d", env.Index)
	}
	return nil
}

// runChildWorkers runs the reduced pipeline of a duplicate: a pool of
// migrators with a fresh controller and fresh counters.
func runChildWorkers(env ChildEnv, applied uint64) error {
	cfg := *env.Config
	cfg.MigrationCycles = cfg.ChildMigrationCycles

	control := NewController()
	if err := control.Advance(PreForkSpawn); err != nil {
		return err
	}
	stats := NewProcessStats()
	wenv := &Env{
		Stats:    stats,
		Control:  control,
		Probe:    env.Probe,
		Topology: env.Topology,
	}

	if env.Abort != nil {
		go func() {
			select {
			case <-env.Abort:
				control.Abort()
			case <-control.Stopped():
			}
		}()
	}
	defer control.Abort()

	configs := PlanWorkers(&cfg, env.Topology.NodeIDs(), 0, 0, cfg.ChildWorkers, applied)
	results := Spawn("child pool", wenv, configs).JoinAll()

	agg := NewAggregator()
	agg.AddResults("", results...)
	_, migrations := bounds(configs)
	agg.Expect(Expectations{
		Pools: []PoolExpectation{{Migrations: migrations, Exact: control.Running()}},
	})

	if v := agg.Finalize(stats, nil); !v.Pass {
		return errors.Wrapf(ErrUnexpectedChildState, "worker pool failed: %s", v)
	}
	return nil
}
