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
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/mitosis-project/repl-stress/pkg/config"
	"github.com/mitosis-project/repl-stress/pkg/harness"
	"github.com/mitosis-project/repl-stress/pkg/metrics"
)

func newRunCommand() *cobra.Command {
	flags := config.Default()
	configPath := ""

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the stress harness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, configPath, flags)
			if err != nil {
				return errors.Wrap(err, "invalid configuration")
			}
			return run(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	addHarnessFlags(cmd.Flags(), flags)

	return cmd
}

func run(cmd *cobra.Command, cfg *config.Harness) error {
	topo, err := topologyFor(cfg)
	if err != nil {
		return err
	}
	p := newProbe(cfg, topo)

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	dup := &harness.ExecDuplicator{
		Config: data,
		Args:   goFlagArgs(cmd),
	}

	infof("PID: %d", os.Getpid())
	infof("NUMA nodes: %d", topo.NodeCount())
	infof("config: %s variant, %d forks, %d fault workers, %d migration workers, probe %s",
		cfg.Variant, cfg.Forks, cfg.FaultWorkers, cfg.MigratorWorkers, cfg.Probe)

	runner := harness.NewRunner(cfg, p, topo, dup)
	if err := metrics.RegisterCollector("harness", func() (prometheus.Collector, error) {
		return harness.NewCollector(runner), nil
	}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	verdict := runner.Run(ctx)
	s := runner.Stats().Snapshot()
	infof("successful forks: %d/%d", s.SuccessfulForks, cfg.Forks)
	infof("failed forks: %d", s.FailedForks)
	infof("thread failures: %d", s.ThreadFailures)
	infof("migrations completed: %d", s.MigrationsCompleted)
	infof("faults completed: %d", s.FaultsCompleted)
	for _, name := range runner.UpperBounded() {
		infof("%s completion counts checked as upper bounds", name)
	}

	if cfg.MetricsOut != "" {
		if err := dumpMetrics(cfg.MetricsOut); err != nil {
			log.Error("failed to dump metrics: %v", err)
		}
	}

	if !verdict.Pass {
		for _, reason := range verdict.Reasons {
			failf("%s", reason)
		}
		failf("stress test failed")
		return errFailed
	}

	passf("all stress tests passed")
	return nil
}

func dumpMetrics(path string) error {
	g, err := metrics.NewMetricGatherer()
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrap(err, "failed to create metrics file")
		}
		defer f.Close()
		w = f
	}

	return metrics.WriteText(w, g)
}
