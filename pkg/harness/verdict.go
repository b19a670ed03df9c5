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
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Verdict is the outcome of a run.
type Verdict struct {
	Pass    bool
	Reasons []string
}

func (v Verdict) String() string {
	if v.Pass {
		return "PASS"
	}
	return "FAIL: " + strings.Join(v.Reasons, "; ")
}

// PoolExpectation is the statically known outcome of one worker pool.
type PoolExpectation struct {
	// Name identifies the pool in verdict reasons, if set.
	Name string
	// Faults and Migrations are the completion counts of the pool's workers.
	Faults     int64
	Migrations int64
	// Exact requires completion counts to match, rather than not exceed,
	// the expectation.
	Exact bool
}

// Expectations are the statically known outcome of a run.
type Expectations struct {
	Pools []PoolExpectation
	// Forks is the number of planned duplications.
	Forks int64
}

// Aggregator collects evidence from workers, duplicates and the coordinator
// into a Verdict.
type Aggregator struct {
	sync.Mutex
	results  []WorkerResult
	pools    map[string][]WorkerResult
	failures []error
	exp      Expectations
}

// NewAggregator creates an Aggregator with nothing expected.
func NewAggregator() *Aggregator {
	return &Aggregator{pools: map[string][]WorkerResult{}}
}

// AddResults adds the results of joined workers of the named pool.
func (a *Aggregator) AddResults(pool string, results ...WorkerResult) {
	a.Lock()
	defer a.Unlock()
	a.results = append(a.results, results...)
	a.pools[pool] = append(a.pools[pool], results...)
}

// Fail records a failure. Every error of a multierror is a separate reason.
func (a *Aggregator) Fail(err error) {
	if err == nil {
		return
	}
	a.Lock()
	defer a.Unlock()

	if merr, ok := err.(*multierror.Error); ok {
		a.failures = append(a.failures, merr.WrappedErrors()...)
		return
	}
	a.failures = append(a.failures, err)
}

// Failf records a failure with the given message.
func (a *Aggregator) Failf(format string, args ...interface{}) {
	a.Fail(errors.Errorf(format, args...))
}

// Failed returns true if any failure has been recorded.
func (a *Aggregator) Failed() bool {
	a.Lock()
	defer a.Unlock()
	return len(a.failures) > 0
}

// FailedWith returns true if a recorded failure is, or wraps, target.
func (a *Aggregator) FailedWith(target error) bool {
	a.Lock()
	defer a.Unlock()
	for _, err := range a.failures {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Expect sets the expected outcome.
func (a *Aggregator) Expect(exp Expectations) {
	a.Lock()
	defer a.Unlock()
	a.exp = exp
}

// Finalize computes the verdict from the final counters, the collected
// duplicates and everything recorded so far. It must only be called once
// every worker and duplicate has terminated. All failure reasons are listed.
func (a *Aggregator) Finalize(stats *ProcessStats, records []*ForkRecord) Verdict {
	a.Lock()
	defer a.Unlock()

	s := stats.Snapshot()
	reasons := []string{}
	add := func(format string, args ...interface{}) {
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	for _, err := range a.failures {
		reasons = append(reasons, err.Error())
	}

	faults, migrations, failures := completed(a.results)
	for _, r := range a.results {
		if r.Err != nil {
			add("%s worker #%d: %s: %v", r.Role, r.ID, Kind(r.Err), r.Err)
		}
	}

	if s.ThreadFailures != 0 {
		add("thread_failures = %d, expected 0", s.ThreadFailures)
	}
	if s.ThreadFailures != failures {
		add("thread_failures = %d, workers reported %d", s.ThreadFailures, failures)
	}
	if s.FaultsCompleted != faults {
		add("faults_completed = %d, workers reported %d", s.FaultsCompleted, faults)
	}
	if s.MigrationsCompleted != migrations {
		add("migrations_completed = %d, workers reported %d", s.MigrationsCompleted, migrations)
	}

	for _, exp := range a.exp.Pools {
		prefix := ""
		if exp.Name != "" {
			prefix = exp.Name + ": "
		}
		check := func(name string, value, expected int64) {
			switch {
			case exp.Exact && value != expected:
				add("%s%s = %d, expected %d", prefix, name, value, expected)
			case value > expected:
				add("%s%s = %d, expected at most %d", prefix, name, value, expected)
			}
		}
		faults, migrations, _ := completed(a.pools[exp.Name])
		check("faults_completed", faults, exp.Faults)
		check("migrations_completed", migrations, exp.Migrations)
	}

	if s.SuccessfulForks != a.exp.Forks {
		add("successful_forks = %d, expected %d", s.SuccessfulForks, a.exp.Forks)
	}
	if s.FailedForks != 0 {
		add("failed_forks = %d, expected 0", s.FailedForks)
	}

	for _, r := range records {
		if r.Disposition != OkExit {
			add("%s", r)
		}
	}

	return Verdict{
		Pass:    len(reasons) == 0,
		Reasons: reasons,
	}
}

// completed sums the completion and failure counts of results.
func completed(results []WorkerResult) (faults, migrations, failures int64) {
	for _, r := range results {
		switch r.Role {
		case FaultInducer:
			faults += r.CompletedUnits
		case NodeMigrator:
			migrations += r.CompletedUnits
		}
		failures += r.LocalFailures
	}
	return faults, migrations, failures
}
