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
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Disposition is how a duplicate terminated.
type Disposition int

const (
	// Pending is a duplicate not collected yet.
	Pending Disposition = iota
	// OkExit is a duplicate exiting with status 0.
	OkExit
	// FailExit is a duplicate exiting with a non-zero status.
	FailExit
	// AbnormalTermination is a duplicate killed by a signal or lost.
	AbnormalTermination
)

func (d Disposition) String() string {
	switch d {
	case Pending:
		return "pending"
	case OkExit:
		return "ok"
	case FailExit:
		return "failed"
	case AbnormalTermination:
		return "abnormal"
	}
	return "unknown"
}

// Child is a running duplicate.
type Child interface {
	// ID returns the id of the duplicate, a pid for real processes.
	ID() int
	// Wait waits for the duplicate to terminate and returns its exit code,
	// or -1 if it did not exit normally.
	Wait() (int, error)
	// Kill terminates the duplicate.
	Kill() error
}

// Duplicator creates duplicates of the running process.
type Duplicator interface {
	// Duplicate starts duplicate #index, which inherits phase.
	Duplicate(index int, inherited Phase) (Child, error)
}

// ForkRecord is the bookkeeping of a single duplicate.
type ForkRecord struct {
	ChildID     int
	LaunchIndex int
	Disposition Disposition
	ExitCode    int
	Err         error

	child Child
}

func (r *ForkRecord) String() string {
	switch r.Disposition {
	case FailExit:
		return fmt.Sprintf("fork #%d (child %d): %s, exit code %d", r.LaunchIndex, r.ChildID, r.Disposition, r.ExitCode)
	case AbnormalTermination, Pending:
		if r.Err != nil {
			return fmt.Sprintf("fork #%d (child %d): %s, %v", r.LaunchIndex, r.ChildID, r.Disposition, r.Err)
		}
	}
	return fmt.Sprintf("fork #%d (child %d): %s", r.LaunchIndex, r.ChildID, r.Disposition)
}

// ForkPlan describes a fork stress loop.
type ForkPlan struct {
	// Count is the number of duplications to attempt.
	Count int
	// Delay is the pause after each duplication.
	Delay time.Duration
	// RevalidateEvery is the interval, in forks, of parent state checks.
	RevalidateEvery int
	// Revalidate checks the state of the parent.
	Revalidate func() error
}

// Orchestrator duplicates the process while workers are running.
type Orchestrator struct {
	dup     Duplicator
	stats   *ProcessStats
	control *Controller
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(dup Duplicator, stats *ProcessStats, control *Controller) *Orchestrator {
	return &Orchestrator{
		dup:     dup,
		stats:   stats,
		control: control,
	}
}

// Launch runs the fork loop of plan without waiting for any duplicate. It
// returns a record for every successful duplication in launch order. The
// loop breaks early if the parent fails revalidation, the run is stopped,
// or ctx is done.
func (o *Orchestrator) Launch(ctx context.Context, plan ForkPlan) ([]*ForkRecord, error) {
	records := make([]*ForkRecord, 0, plan.Count)
	var failures *multierror.Error

	for i := 0; i < plan.Count; i++ {
		if err := ctx.Err(); err != nil {
			failures = multierror.Append(failures, errors.Wrapf(ErrTimeout, "fork loop interrupted after %d forks", i))
			return records, failures
		}
		if !o.control.Running() {
			return records, failures.ErrorOrNil()
		}

		child, err := o.dup.Duplicate(i, o.control.Phase())
		if err != nil {
			o.stats.FailedForks.Inc()
			log.Error("fork #%d failed: %v", i, err)
			failures = multierror.Append(failures, errors.Wrapf(ErrForkFailure, "fork #%d: %v", i, err))
			continue
		}
		o.stats.SuccessfulForks.Inc()
		records = append(records, &ForkRecord{
			ChildID:     child.ID(),
			LaunchIndex: i,
			Disposition: Pending,
			child:       child,
		})
		log.Debug("fork #%d: child %d", i, child.ID())

		if plan.Delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(plan.Delay):
			}
		}

		if plan.Revalidate != nil && plan.RevalidateEvery > 0 && i%plan.RevalidateEvery == 0 {
			if err := plan.Revalidate(); err != nil {
				log.Error("parent failed revalidation after fork #%d: %v", i, err)
				failures = multierror.Append(failures, errors.Wrapf(ErrParentStateChanged, "after fork #%d: %v", i, err))
				return records, failures
			}
		}
	}

	return records, failures.ErrorOrNil()
}

type collected struct {
	record *ForkRecord
	code   int
	err    error
}

// Collect waits for every pending duplicate and classifies how it ended.
// Duplicates are collected as they terminate. Once ctx is done the ones
// still running are killed and recorded as abnormally terminated.
func (o *Orchestrator) Collect(ctx context.Context, records []*ForkRecord) {
	ch := make(chan collected, len(records))
	pending := 0

	for _, r := range records {
		if r.Disposition != Pending || r.child == nil {
			continue
		}
		pending++
		go func(r *ForkRecord) {
			code, err := r.child.Wait()
			ch <- collected{record: r, code: code, err: err}
		}(r)
	}

	killed := false
	done := ctx.Done()
	for pending > 0 {
		select {
		case c := <-ch:
			pending--
			c.record.classify(c.code, c.err, killed)
			log.Debug("collected %s", c.record)
		case <-done:
			done = nil
			killed = true
			log.Warn("timeout, killing %d pending children", pending)
			for _, r := range records {
				if r.Disposition == Pending && r.child != nil {
					if err := r.child.Kill(); err != nil {
						log.Error("failed to kill child %d: %v", r.ChildID, err)
					}
				}
			}
		}
	}
}

func (r *ForkRecord) classify(code int, err error, killed bool) {
	r.ExitCode = code
	switch {
	case killed && code != 0:
		r.Disposition = AbnormalTermination
		r.Err = errors.Wrapf(ErrTimeout, "child %d killed", r.ChildID)
	case code == 0 && err == nil:
		r.Disposition = OkExit
	case code > 0:
		r.Disposition = FailExit
		r.Err = errors.Wrapf(ErrUnexpectedChildState, "child %d exited with %d", r.ChildID, code)
	default:
		r.Disposition = AbnormalTermination
		if err == nil {
			err = errors.New("terminated abnormally")
		}
		r.Err = errors.Wrapf(err, "child %d", r.ChildID)
	}
	r.child = nil
}
