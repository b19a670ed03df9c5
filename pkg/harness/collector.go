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
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus Metric descriptor indices and descriptor table
const (
	successfulForksDesc = iota
	failedForksDesc
	threadFailuresDesc
	migrationsDesc
	faultsDesc
	phaseDesc
	numDescriptors
)

var descriptors = [numDescriptors]*prometheus.Desc{
	successfulForksDesc: prometheus.NewDesc(
		"repl_stress_successful_forks_total",
		"Number of successful duplications.",
		nil, nil,
	),
	failedForksDesc: prometheus.NewDesc(
		"repl_stress_failed_forks_total",
		"Number of failed duplications.",
		nil, nil,
	),
	threadFailuresDesc: prometheus.NewDesc(
		"repl_stress_thread_failures_total",
		"Number of workers terminated by a failure.",
		nil, nil,
	),
	migrationsDesc: prometheus.NewDesc(
		"repl_stress_migrations_completed_total",
		"Number of completed migration cycles.",
		nil, nil,
	),
	faultsDesc: prometheus.NewDesc(
		"repl_stress_faults_completed_total",
		"Number of completed fault iterations.",
		nil, nil,
	),
	phaseDesc: prometheus.NewDesc(
		"repl_stress_phase",
		"Current phase of the run.",
		[]string{"phase"}, nil,
	),
}

type collector struct {
	stats   *ProcessStats
	control *Controller
}

// NewCollector creates a Prometheus collector for the counters of a run.
func NewCollector(r *Runner) prometheus.Collector {
	return &collector{stats: r.stats, control: r.control}
}

// Describe implements prometheus.Collector interface
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector interface
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats.Snapshot()
	for idx, value := range map[int]int64{
		successfulForksDesc: s.SuccessfulForks,
		failedForksDesc:     s.FailedForks,
		threadFailuresDesc:  s.ThreadFailures,
		migrationsDesc:      s.MigrationsCompleted,
		faultsDesc:          s.FaultsCompleted,
	} {
		ch <- prometheus.MustNewConstMetric(descriptors[idx], prometheus.CounterValue, float64(value))
	}

	current := c.control.Phase()
	for p := Init; p <= Teardown; p++ {
		value := 0.0
		if p == current {
			value = 1.0
		}
		ch <- prometheus.MustNewConstMetric(descriptors[phaseDesc], prometheus.GaugeValue, value, p.String())
	}
}
