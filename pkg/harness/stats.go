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

	"go.uber.org/atomic"
)

// ProcessStats are the process-wide counters of a run. Every field is only
// ever updated by atomic addition, and should only be read once all workers
// and duplicates have been collected.
type ProcessStats struct {
	SuccessfulForks     atomic.Int64
	FailedForks         atomic.Int64
	ThreadFailures      atomic.Int64
	MigrationsCompleted atomic.Int64
	FaultsCompleted     atomic.Int64
}

// StatsSnapshot is a point-in-time copy of ProcessStats.
type StatsSnapshot struct {
	SuccessfulForks     int64
	FailedForks         int64
	ThreadFailures      int64
	MigrationsCompleted int64
	FaultsCompleted     int64
}

// NewProcessStats creates a zeroed set of counters.
func NewProcessStats() *ProcessStats {
	return &ProcessStats{}
}

// Snapshot copies the current counter values.
func (s *ProcessStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		SuccessfulForks:     s.SuccessfulForks.Load(),
		FailedForks:         s.FailedForks.Load(),
		ThreadFailures:      s.ThreadFailures.Load(),
		MigrationsCompleted: s.MigrationsCompleted.Load(),
		FaultsCompleted:     s.FaultsCompleted.Load(),
	}
}

// publish adds the outcome of a terminated worker.
func (s *ProcessStats) publish(r *WorkerResult) {
	switch r.Role {
	case FaultInducer:
		s.FaultsCompleted.Add(r.CompletedUnits)
	case NodeMigrator:
		s.MigrationsCompleted.Add(r.CompletedUnits)
	}
	if r.LocalFailures > 0 {
		s.ThreadFailures.Add(r.LocalFailures)
	}
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("forks %d ok/%d failed, thread failures %d, migrations %d, faults %d",
		s.SuccessfulForks, s.FailedForks, s.ThreadFailures, s.MigrationsCompleted, s.FaultsCompleted)
}
