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
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Phase is a stage in the lifecycle of a run.
type Phase int32

const (
	// Init enables replication and confirms it.
	Init Phase = iota
	// PreForkSpawn starts the pre-fork workers.
	PreForkSpawn
	// ForkStress duplicates the process repeatedly.
	ForkStress
	// PostForkValidate rechecks the parent and runs post-fork workers.
	PostForkValidate
	// Teardown stops everything and computes the verdict.
	Teardown
)

var phaseNames = map[Phase]string{
	Init:             "Init",
	PreForkSpawn:     "PreForkSpawn",
	ForkStress:       "ForkStress",
	PostForkValidate: "PostForkValidate",
	Teardown:         "Teardown",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", int32(p))
}

// ParsePhase parses the name of a phase.
func ParsePhase(name string) (Phase, error) {
	for p, n := range phaseNames {
		if n == name {
			return p, nil
		}
	}
	return Init, errors.Errorf("unknown phase %q", name)
}

// Controller sequences a run through its phases. It is driven by a single
// coordinator and read by any number of workers.
type Controller struct {
	phase atomic.Int32
	stop  chan struct{}
	once  sync.Once
}

// NewController creates a Controller in phase Init.
func NewController() *Controller {
	return &Controller{stop: make(chan struct{})}
}

// newControllerAt creates a Controller in the given, inherited phase.
func newControllerAt(phase Phase) *Controller {
	c := NewController()
	c.phase.Store(int32(phase))
	return c
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

// Advance moves the run to the next phase, which must be to.
func (c *Controller) Advance(to Phase) error {
	from := to - 1
	if to <= Init || to > Teardown || !c.phase.CAS(int32(from), int32(to)) {
		return errors.Errorf("invalid phase transition %s -> %s", c.Phase(), to)
	}
	log.Debug("phase %s -> %s", from, to)
	if to == Teardown {
		c.closeStop()
	}
	return nil
}

// Abort forces the run into Teardown from any phase.
func (c *Controller) Abort() {
	if from := Phase(c.phase.Swap(int32(Teardown))); from != Teardown {
		log.Debug("phase %s -> %s (aborted)", from, Teardown)
	}
	c.closeStop()
}

// ClearInherited clears state a duplicate inherits from its parent,
// leaving nothing pending.
func (c *Controller) ClearInherited() {
	c.Abort()
}

// Stopped returns a channel closed once the run is stopping.
func (c *Controller) Stopped() <-chan struct{} {
	return c.stop
}

// Running returns true until the run is stopping.
func (c *Controller) Running() bool {
	select {
	case <-c.stop:
		return false
	default:
		return c.Phase() != Teardown
	}
}

func (c *Controller) closeStop() {
	c.once.Do(func() { close(c.stop) })
}
