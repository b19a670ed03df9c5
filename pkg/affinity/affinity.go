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

// Package affinity binds OS threads to NUMA nodes and reports where the
// calling thread currently runs.
//
// Affinity is a per-thread property. Callers must lock their goroutine to
// its OS thread with runtime.LockOSThread before PinCaller, and keep it
// locked for as long as the pinning is expected to hold.
package affinity

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	logger "github.com/mitosis-project/repl-stress/pkg/log"
	"github.com/mitosis-project/repl-stress/pkg/sysfs"
	"github.com/mitosis-project/repl-stress/pkg/utils/cpuset"
)

// our logger instance
var log = logger.NewLogger("affinity")

// Placer pins threads to the NUMA nodes of a discovered system.
type Placer struct {
	sys *sysfs.System
}

// NewPlacer creates a Placer for the given system.
func NewPlacer(sys *sysfs.System) *Placer {
	return &Placer{sys: sys}
}

// NodeCount returns the number of NUMA nodes.
func (p *Placer) NodeCount() int {
	return p.sys.NodeCount()
}

// NodeIDs returns the sorted ids of all NUMA nodes.
func (p *Placer) NodeIDs() []int {
	ids := []int{}
	for _, id := range p.sys.NodeIDs() {
		ids = append(ids, int(id))
	}
	return ids
}

// CPUsOf returns the CPUs of the given node.
func (p *Placer) CPUsOf(node int) (cpuset.CPUSet, error) {
	n := p.sys.Node(sysfs.ID(node))
	if n == nil {
		return cpuset.New(), errors.Errorf("no NUMA node #%d", node)
	}
	return n.CPUSet(), nil
}

// PinCaller restricts the calling OS thread to the CPUs of the given node.
func (p *Placer) PinCaller(node int) error {
	cpus, err := p.CPUsOf(node)
	if err != nil {
		return err
	}
	if cpus.IsEmpty() {
		return errors.Errorf("NUMA node #%d has no online CPUs", node)
	}

	mask, err := cpuset.ToUnix(cpus)
	if err != nil {
		return err
	}
	if err := unix.SchedSetaffinity(0, mask); err != nil {
		return errors.Wrapf(err, "failed to pin thread %d to node #%d (CPUs %s)",
			unix.Gettid(), node, cpuset.ShortCPUSet(cpus))
	}

	log.Debug("pinned thread %d to node #%d (CPUs %s)", unix.Gettid(), node, cpuset.ShortCPUSet(cpus))
	return nil
}

// CurrentNodeOfCaller returns the NUMA node of the CPU the calling thread runs on.
func (p *Placer) CurrentNodeOfCaller() (int, error) {
	cpu, node, err := getcpu()
	if err != nil {
		return -1, err
	}
	if id := p.sys.NodeOfCPU(sysfs.ID(cpu)); id != sysfs.Unknown {
		return int(id), nil
	}
	return node, nil
}

// CurrentAffinity returns the affinity mask of the calling thread.
func CurrentAffinity() (cpuset.CPUSet, error) {
	mask := &unix.CPUSet{}
	if err := unix.SchedGetaffinity(0, mask); err != nil {
		return cpuset.New(), errors.Wrap(err, "failed to get thread affinity")
	}
	return cpuset.FromUnix(mask), nil
}

// getcpu returns the CPU and NUMA node the calling thread is running on.
func getcpu() (int, int, error) {
	// syscall:
	// int getcpu(unsigned int *cpu, unsigned int *node);
	var cpu, node uint32

	_, _, en := unix.RawSyscall(unix.SYS_GETCPU,
		uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0)
	if en != 0 {
		return -1, -1, errors.Wrap(unix.Errno(en), "getcpu() failed")
	}

	return int(cpu), int(node), nil
}
