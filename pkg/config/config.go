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

// Package config holds the configuration of a stress run.
//
// Configuration is read from an optional YAML (or JSON) file and can be
// overridden from the command line, since every enumerated field and
// Duration implement the pflag.Value interface.
package config

import (
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Variant selects how workers and the fork loop overlap.
type Variant string

const (
	// Sequential joins the pre-fork workers before forking starts.
	Sequential Variant = "sequential"
	// Concurrent forks while the pre-fork workers are still running.
	Concurrent Variant = "concurrent"
)

// ThreadedEnable is the expected outcome of enabling replication in a
// multi-threaded process.
type ThreadedEnable string

const (
	// ThreadedAllow expects enabling to succeed.
	ThreadedAllow ThreadedEnable = "allow"
	// ThreadedReject expects enabling to fail with EBUSY.
	ThreadedReject ThreadedEnable = "reject"
)

// ProbeKind selects the replication state backend.
type ProbeKind string

const (
	// ProbePrctl uses the kernel prctl() interface.
	ProbePrctl ProbeKind = "prctl"
	// ProbeFake uses an in-memory simulation.
	ProbeFake ProbeKind = "fake"
)

// Harness is the configuration of a stress run.
type Harness struct {
	// Variant is sequential or concurrent.
	Variant Variant `json:"variant"`
	// Forks is the number of duplicates to launch.
	Forks int `json:"forks"`
	// ForkDelay is the pause between two duplications.
	ForkDelay Duration `json:"forkDelay"`
	// RevalidateEvery is the number of forks between parent state checks.
	RevalidateEvery int `json:"revalidateEvery"`
	// WarmupDelay lets concurrent workers get going before forking.
	WarmupDelay Duration `json:"warmupDelay"`
	// SettleDelay is the pause after the fork loop.
	SettleDelay Duration `json:"settleDelay"`

	FaultWorkers         int      `json:"faultWorkers"`
	MigratorWorkers      int      `json:"migratorWorkers"`
	FaultIterations      int      `json:"faultIterations"`
	MigrationCycles      int      `json:"migrationCycles"`
	FaultSampleEvery     int      `json:"faultSampleEvery"`
	MigrationSampleEvery int      `json:"migrationSampleEvery"`
	MigrationDelay       Duration `json:"migrationDelay"`

	// PostForkWorkers runs a fresh worker pool after the fork loop.
	PostForkWorkers bool `json:"postForkWorkers"`
	// ChildWorkers is the number of migrators each duplicate runs.
	ChildWorkers int `json:"childWorkers"`
	// ChildMigrationCycles bounds the work of the duplicate's migrators.
	ChildMigrationCycles int `json:"childMigrationCycles"`

	// EnableMask is the node mask to enable, 1 meaning all nodes.
	EnableMask uint64 `json:"enableMask"`
	// ThreadedEnable is allow or reject.
	ThreadedEnable ThreadedEnable `json:"threadedEnable"`
	// StrictNodeMask also requires a sampling worker's node in the mask.
	StrictNodeMask bool `json:"strictNodeMask"`
	// ExactCompletion drains the pre-fork workers of the concurrent variant
	// before Teardown and requires their counters to reach their static
	// bounds. Without it they are stopped at Teardown and only bounded.
	ExactCompletion bool `json:"exactCompletion"`
	// IdempotentEnable re-enables during Init and compares the masks.
	IdempotentEnable bool `json:"idempotentEnable"`

	// Timeout is the wall-clock limit of the whole run, 0 for none.
	Timeout Duration `json:"timeout"`
	// MinNodes is the number of NUMA nodes required to run.
	MinNodes int `json:"minNodes"`
	// Probe is prctl or fake.
	Probe ProbeKind `json:"probe"`
	// FakeNodes is the simulated node count with the fake probe, 0 to use
	// the discovered topology.
	FakeNodes int `json:"fakeNodes"`
	// MetricsOut is a file to dump final metrics into, "-" for stdout.
	MetricsOut string `json:"metricsOut,omitempty"`
}

// Default returns the default configuration.
func Default() *Harness {
	return &Harness{
		Variant:              Concurrent,
		Forks:                15,
		ForkDelay:            Duration(10 * time.Millisecond),
		RevalidateEvery:      5,
		WarmupDelay:          Duration(100 * time.Millisecond),
		SettleDelay:          Duration(200 * time.Millisecond),
		FaultWorkers:         4,
		MigratorWorkers:      4,
		FaultIterations:      5000,
		MigrationCycles:      100,
		FaultSampleEvery:     500,
		MigrationSampleEvery: 10,
		MigrationDelay:       Duration(time.Millisecond),
		PostForkWorkers:      true,
		ChildWorkers:         0,
		ChildMigrationCycles: 10,
		EnableMask:           1,
		ThreadedEnable:       ThreadedAllow,
		ExactCompletion:      true,
		IdempotentEnable:     true,
		Timeout:              Duration(5 * time.Minute),
		MinNodes:             2,
		Probe:                ProbePrctl,
	}
}

// Load reads the configuration file at path on top of the defaults.
func Load(path string) (*Harness, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration file")
	}
	if err := cfg.Parse(data); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration file %s", path)
	}

	return cfg, nil
}

// Parse updates the configuration from YAML or JSON data.
func (h *Harness) Parse(data []byte) error {
	if err := yaml.UnmarshalStrict(data, h); err != nil {
		return errors.Wrap(err, "failed to parse configuration")
	}
	return nil
}

// Marshal returns the configuration as YAML.
func (h *Harness) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(h)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal configuration")
	}
	return data, nil
}

// Validate checks the configuration, reporting every invalid field.
func (h *Harness) Validate() error {
	var result *multierror.Error

	fail := func(format string, args ...interface{}) {
		result = multierror.Append(result, errors.Errorf(format, args...))
	}

	if err := h.Variant.validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := h.ThreadedEnable.validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := h.Probe.validate(); err != nil {
		result = multierror.Append(result, err)
	}

	for name, value := range map[string]int{
		"forks":                h.Forks,
		"faultWorkers":         h.FaultWorkers,
		"migratorWorkers":      h.MigratorWorkers,
		"childWorkers":         h.ChildWorkers,
		"fakeNodes":            h.FakeNodes,
		"faultIterations":      h.FaultIterations,
		"migrationCycles":      h.MigrationCycles,
		"childMigrationCycles": h.ChildMigrationCycles,
	} {
		if value < 0 {
			fail("%s must not be negative, got %d", name, value)
		}
	}
	for name, value := range map[string]int{
		"revalidateEvery":      h.RevalidateEvery,
		"faultSampleEvery":     h.FaultSampleEvery,
		"migrationSampleEvery": h.MigrationSampleEvery,
		"minNodes":             h.MinNodes,
	} {
		if value < 1 {
			fail("%s must be positive, got %d", name, value)
		}
	}
	for name, value := range map[string]Duration{
		"forkDelay":      h.ForkDelay,
		"warmupDelay":    h.WarmupDelay,
		"settleDelay":    h.SettleDelay,
		"migrationDelay": h.MigrationDelay,
		"timeout":        h.Timeout,
	} {
		if value < 0 {
			fail("%s must not be negative, got %s", name, value.Std())
		}
	}

	if h.EnableMask == 0 {
		fail("enableMask must not be 0")
	}

	// sorted for a stable report
	if result != nil {
		sortErrors(result)
	}

	return result.ErrorOrNil()
}
