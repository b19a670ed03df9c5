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

package probe

import (
	"sync"

	"github.com/pkg/errors"
)

// FakeOptions alter the behavior of a Fake probe.
type FakeOptions struct {
	// Nodes is the number of online nodes.
	Nodes int
	// BusyOnEnable makes every Enable fail with ErrBusy.
	BusyOnEnable bool
	// InheritOnFork makes Fork copy the parent state instead of resetting it.
	InheritOnFork bool
}

// Fake is an in-memory Probe with the semantics of the kernel interface.
// It is used for dry runs on kernels without replication support.
type Fake struct {
	sync.Mutex
	opts    FakeOptions
	mask    uint64
	enables int
}

// NewFake creates a Fake probe with replication disabled.
func NewFake(opts FakeOptions) *Fake {
	if opts.Nodes < 1 {
		opts.Nodes = 1
	}
	return &Fake{opts: opts}
}

// allNodes returns the mask of all online nodes.
func (f *Fake) allNodes() uint64 {
	if f.opts.Nodes >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(f.opts.Nodes)) - 1
}

// Enable requests replication for mask.
func (f *Fake) Enable(mask uint64) (uint64, error) {
	f.Lock()
	defer f.Unlock()

	if f.opts.BusyOnEnable {
		return 0, errors.Wrapf(ErrBusy, "fake enable (mask %#x)", mask)
	}

	applied := mask
	switch {
	case mask == Disabled:
		return 0, errors.Wrap(ErrInvalidArgument, "fake enable with empty mask")
	case mask == AllNodes:
		applied = f.allNodes()
	case mask&^f.allNodes() != 0:
		return 0, errors.Wrapf(ErrInvalidArgument, "fake enable (mask %#x beyond %#x)", mask, f.allNodes())
	}

	f.mask = applied
	f.enables++
	return applied, nil
}

// Disable turns replication off.
func (f *Fake) Disable() error {
	f.Lock()
	defer f.Unlock()
	f.mask = Disabled
	return nil
}

// Query returns the current replication mask.
func (f *Fake) Query() (uint64, error) {
	f.Lock()
	defer f.Unlock()
	return f.mask, nil
}

// Enables returns the number of successful Enable calls.
func (f *Fake) Enables() int {
	f.Lock()
	defer f.Unlock()
	return f.enables
}

// Fork returns the probe state a duplicate of this process starts with.
func (f *Fake) Fork() *Fake {
	f.Lock()
	defer f.Unlock()

	child := &Fake{opts: f.opts}
	if f.opts.InheritOnFork {
		child.mask = f.mask
	}
	return child
}
