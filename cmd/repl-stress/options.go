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

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mitosis-project/repl-stress/pkg/affinity"
	"github.com/mitosis-project/repl-stress/pkg/config"
	"github.com/mitosis-project/repl-stress/pkg/harness"
	"github.com/mitosis-project/repl-stress/pkg/probe"
	"github.com/mitosis-project/repl-stress/pkg/sysfs"
)

// addHarnessFlags binds command line flags to the fields of cfg.
func addHarnessFlags(fs *pflag.FlagSet, cfg *config.Harness) {
	fs.Var(&cfg.Variant, "variant", "sequential or concurrent")
	fs.IntVar(&cfg.Forks, "forks", cfg.Forks, "number of duplications")
	fs.Var(&cfg.ForkDelay, "fork-delay", "pause between duplications")
	fs.IntVar(&cfg.RevalidateEvery, "revalidate-every", cfg.RevalidateEvery, "forks between parent state checks")
	fs.Var(&cfg.WarmupDelay, "warmup-delay", "pause before forking in the concurrent variant")
	fs.Var(&cfg.SettleDelay, "settle-delay", "pause after forking")
	fs.IntVar(&cfg.FaultWorkers, "fault-workers", cfg.FaultWorkers, "number of fault inducing workers")
	fs.IntVar(&cfg.MigratorWorkers, "migrator-workers", cfg.MigratorWorkers, "number of node migrating workers")
	fs.IntVar(&cfg.FaultIterations, "fault-iterations", cfg.FaultIterations, "iterations per fault worker")
	fs.IntVar(&cfg.MigrationCycles, "migration-cycles", cfg.MigrationCycles, "cycles per migrating worker")
	fs.IntVar(&cfg.FaultSampleEvery, "fault-sample-every", cfg.FaultSampleEvery, "fault iterations between state checks")
	fs.IntVar(&cfg.MigrationSampleEvery, "migration-sample-every", cfg.MigrationSampleEvery, "migration cycles between state checks")
	fs.Var(&cfg.MigrationDelay, "migration-delay", "pause between migration cycles")
	fs.BoolVar(&cfg.PostForkWorkers, "post-fork-workers", cfg.PostForkWorkers, "run a fresh worker pool after forking")
	fs.IntVar(&cfg.ChildWorkers, "child-workers", cfg.ChildWorkers, "number of migrating workers in every duplicate")
	fs.IntVar(&cfg.ChildMigrationCycles, "child-migration-cycles", cfg.ChildMigrationCycles, "cycles per duplicate worker")
	fs.Uint64Var(&cfg.EnableMask, "enable-mask", cfg.EnableMask, "node mask to enable, 1 for all nodes")
	fs.Var(&cfg.ThreadedEnable, "threaded-enable", "expected enable outcome with threads, allow or reject")
	fs.BoolVar(&cfg.StrictNodeMask, "strict-node-mask", cfg.StrictNodeMask, "require the current node in sampled masks")
	fs.BoolVar(&cfg.ExactCompletion, "exact-completion", cfg.ExactCompletion, "drain concurrent pre-fork workers and require exact counts, false to only bound them")
	fs.BoolVar(&cfg.IdempotentEnable, "idempotent-enable", cfg.IdempotentEnable, "check that enabling twice is idempotent")
	fs.Var(&cfg.Timeout, "timeout", "wall-clock limit of the run, 0 for none")
	fs.IntVar(&cfg.MinNodes, "min-nodes", cfg.MinNodes, "number of NUMA nodes required")
	fs.Var(&cfg.Probe, "probe", "replication backend, prctl or fake")
	fs.IntVar(&cfg.FakeNodes, "fake-nodes", cfg.FakeNodes, "simulated NUMA nodes, 0 for the real topology")
	fs.StringVar(&cfg.MetricsOut, "metrics-out", cfg.MetricsOut, "file to dump final metrics into, - for stdout")
}

// loadConfig reads the configuration file, if any, and applies the flags
// changed on the command line on top of it.
func loadConfig(cmd *cobra.Command, path string, flags *config.Harness) (*config.Harness, error) {
	if path == "" {
		return flags, flags.Validate()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	fs := pflag.NewFlagSet("overrides", pflag.ContinueOnError)
	addHarnessFlags(fs, cfg)

	var ferr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if ferr == nil && fs.Lookup(f.Name) != nil {
			ferr = fs.Set(f.Name, f.Value.String())
		}
	})
	if ferr != nil {
		return nil, ferr
	}

	return cfg, cfg.Validate()
}

// topologyFor returns the topology a run is pinned on.
func topologyFor(cfg *config.Harness) (harness.Topology, error) {
	sys, err := sysfs.DiscoverSystem()
	if err != nil {
		return nil, err
	}
	if cfg.Probe == config.ProbeFake && cfg.FakeNodes > 0 {
		return affinity.NewSimulated(sys, cfg.FakeNodes)
	}
	return affinity.NewPlacer(sys), nil
}

// newProbe creates the replication backend of a run or a duplicate.
var newProbe = probeFor

// probeFor returns the replication backend of a run.
func probeFor(cfg *config.Harness, topo harness.Topology) probe.Probe {
	if cfg.Probe == config.ProbeFake {
		return probe.NewFake(probe.FakeOptions{Nodes: topo.NodeCount()})
	}
	return probe.NewPrctl()
}
