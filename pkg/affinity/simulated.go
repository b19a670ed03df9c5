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

package affinity

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/mitosis-project/repl-stress/pkg/sysfs"
	"github.com/mitosis-project/repl-stress/pkg/utils/cpuset"
)

// Simulated presents a number of virtual NUMA nodes backed by the real
// ones, virtual node v being real node v modulo the real node count. It
// lets multi-node runs be exercised on smaller machines.
type Simulated struct {
	*Placer
	nodes  int
	phys   []int
	pinned sync.Map
}

// NewSimulated creates a Simulated placer with the given number of nodes.
func NewSimulated(sys *sysfs.System, nodes int) (*Simulated, error) {
	p := NewPlacer(sys)
	phys := p.NodeIDs()
	if len(phys) == 0 {
		return nil, errors.New("no NUMA nodes to back virtual nodes")
	}
	if nodes < 1 {
		return nil, errors.Errorf("invalid virtual node count %d", nodes)
	}
	return &Simulated{Placer: p, nodes: nodes, phys: phys}, nil
}

// NodeCount returns the number of virtual nodes.
func (s *Simulated) NodeCount() int {
	return s.nodes
}

// NodeIDs returns the ids of the virtual nodes.
func (s *Simulated) NodeIDs() []int {
	ids := make([]int, s.nodes)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// CPUsOf returns the CPUs backing a virtual node.
func (s *Simulated) CPUsOf(node int) (cpuset.CPUSet, error) {
	phys, err := s.backing(node)
	if err != nil {
		return cpuset.New(), err
	}
	return s.Placer.CPUsOf(phys)
}

// PinCaller pins the calling thread to the CPUs backing a virtual node.
func (s *Simulated) PinCaller(node int) error {
	phys, err := s.backing(node)
	if err != nil {
		return err
	}
	if err := s.Placer.PinCaller(phys); err != nil {
		return err
	}
	s.pinned.Store(unix.Gettid(), node)
	return nil
}

// CurrentNodeOfCaller returns the virtual node the calling thread is pinned
// to, as long as it really runs on the node backing it.
func (s *Simulated) CurrentNodeOfCaller() (int, error) {
	phys, err := s.Placer.CurrentNodeOfCaller()
	if err != nil {
		return -1, err
	}
	if v, ok := s.pinned.Load(unix.Gettid()); ok {
		if node := v.(int); s.phys[node%len(s.phys)] == phys {
			return node, nil
		}
	}
	for i, id := range s.phys {
		if id == phys {
			return i, nil
		}
	}
	return phys, nil
}

func (s *Simulated) backing(node int) (int, error) {
	if node < 0 || node >= s.nodes {
		return -1, errors.Errorf("no virtual NUMA node #%d", node)
	}
	return s.phys[node%len(s.phys)], nil
}
