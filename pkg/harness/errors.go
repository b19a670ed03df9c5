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
	"github.com/pkg/errors"

	"github.com/mitosis-project/repl-stress/pkg/memory"
	"github.com/mitosis-project/repl-stress/pkg/probe"
)

var (
	// ErrProbeBusy is the kernel refusing a replication change (EBUSY).
	ErrProbeBusy = probe.ErrBusy
	// ErrProbeInvalidArgument is the kernel rejecting a node mask (EINVAL).
	ErrProbeInvalidArgument = probe.ErrInvalidArgument
	// ErrPinFailure is a thread that could not be moved to its node.
	ErrPinFailure = errors.New("pin failure")
	// ErrDataCorruption is memory reading back wrong data.
	ErrDataCorruption = memory.ErrDataCorruption
	// ErrUnexpectedState is a sampled replication state off the expectation.
	ErrUnexpectedState = errors.New("unexpected replication state")
	// ErrUnexpectedChildState is a duplicate violating its contract.
	ErrUnexpectedChildState = errors.New("unexpected child state")
	// ErrForkFailure is a failed duplication attempt.
	ErrForkFailure = errors.New("fork failure")
	// ErrParentStateChanged is the parent state perturbed by duplication.
	ErrParentStateChanged = errors.New("parent state changed")
	// ErrTimeout is the run exceeding its wall-clock limit.
	ErrTimeout = errors.New("timeout")
)

// kinds lists error kinds in the order they are reported.
var kinds = []struct {
	err  error
	name string
}{
	{ErrProbeBusy, "ProbeBusy"},
	{ErrProbeInvalidArgument, "ProbeInvalidArgument"},
	{ErrPinFailure, "PinFailure"},
	{ErrDataCorruption, "DataCorruption"},
	{ErrUnexpectedState, "UnexpectedState"},
	{ErrUnexpectedChildState, "UnexpectedChildState"},
	{ErrForkFailure, "ForkFailure"},
	{ErrParentStateChanged, "ParentStateChanged"},
	{ErrTimeout, "Timeout"},
}

// Kind returns the name of the error kind err belongs to, or "Error".
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Error"
}
