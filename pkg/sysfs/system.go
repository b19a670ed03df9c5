// Copyright 2019 Intel Corporation. All Rights Reserved.
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

package sysfs

import (
	"path/filepath"

	"github.com/pkg/errors"

	logger "github.com/mitosis-project/repl-stress/pkg/log"
	"github.com/mitosis-project/repl-stress/pkg/utils/cpuset"
)

const (
	// SysfsRootPath is the mount path of sysfs.
	SysfsRootPath = "/sys"
	// sysfs devices/cpu subdirectory path
	sysfsCPUPath = "devices/system/cpu"
	// sysfs device/node subdirectory path
	sysfsNumaNodePath = "devices/system/node"
)

// System is the NUMA topology of the running system. It is discovered once
// and treated as immutable afterwards.
type System struct {
	logger.Logger              // our logger instance
	path          string       // sysfs mount point
	nodes         map[ID]*Node // NUMA nodes
	cpus          map[ID]ID    // CPU to NUMA node
	online        IDSet        // online CPUs
}

// Node is a NUMA node.
type Node struct {
	path     string // sysfs path
	id       ID     // node id
	cpus     IDSet  // cpus in this node
	distance []int  // distance/cost to other NUMA nodes
}

// DiscoverSystem discovers the NUMA topology under the default sysfs mount point.
func DiscoverSystem() (*System, error) {
	return DiscoverSystemAt(SysfsRootPath)
}

// DiscoverSystemAt discovers the NUMA topology under the given sysfs root.
func DiscoverSystemAt(path string) (*System, error) {
	sys := &System{
		Logger: logger.NewLogger("sysfs"),
		path:   path,
		nodes:  make(map[ID]*Node),
		cpus:   make(map[ID]ID),
	}

	if err := sys.discoverOnline(); err != nil {
		return nil, err
	}
	if err := sys.discoverNodes(); err != nil {
		return nil, err
	}

	if sys.DebugEnabled() {
		for _, id := range sys.NodeIDs() {
			node := sys.nodes[id]
			sys.Debug("node #%d:", id)
			sys.Debug("      cpus: %s", node.cpus)
			sys.Debug("  distance: %v", node.distance)
		}
		sys.Debug("online CPUs: %s", sys.online)
	}

	return sys, nil
}

// discoverOnline discovers the set of online CPUs.
func (sys *System) discoverOnline() error {
	if _, err := readSysfsEntry(sys.path, filepath.Join(sysfsCPUPath, "online"), &sys.online); err != nil {
		return errors.Wrap(err, "failed to discover online CPUs")
	}
	return nil
}

// discoverNodes discovers NUMA nodes present in the system.
func (sys *System) discoverNodes() error {
	entries, _ := filepath.Glob(filepath.Join(sys.path, sysfsNumaNodePath, "node[0-9]*"))
	for _, entry := range entries {
		if err := sys.discoverNode(entry); err != nil {
			return errors.Wrapf(err, "failed to discover node for entry %s", entry)
		}
	}

	if len(sys.nodes) == 0 {
		// non-NUMA kernel, treat the whole system as node #0
		sys.nodes[0] = &Node{id: 0, cpus: NewIDSet(sys.online.SortedMembers()...), distance: []int{10}}
		for cpu := range sys.online {
			sys.cpus[cpu] = 0
		}
	}

	return nil
}

// discoverNode discovers details of the given NUMA node.
func (sys *System) discoverNode(path string) error {
	node := &Node{path: path, id: getEnumeratedID(path)}
	if node.id == Unknown {
		return sysfsError(path, "can't parse node id")
	}

	if _, err := readSysfsEntry(path, "cpulist", &node.cpus); err != nil {
		return err
	}
	if _, err := readSysfsEntry(path, "distance", &node.distance); err != nil {
		node.distance = nil
	}

	for cpu := range node.cpus {
		if !sys.online.Has(cpu) {
			delete(node.cpus, cpu)
			continue
		}
		sys.cpus[cpu] = node.id
	}
	sys.nodes[node.id] = node

	return nil
}

// NodeIDs returns the sorted ids of all NUMA nodes present in the system.
func (sys *System) NodeIDs() []ID {
	ids := NewIDSet()
	for id := range sys.nodes {
		ids.Add(id)
	}
	return ids.SortedMembers()
}

// NodeCount returns the number of NUMA nodes present in the system.
func (sys *System) NodeCount() int {
	return len(sys.nodes)
}

// Node returns the node with the given id.
func (sys *System) Node(id ID) *Node {
	return sys.nodes[id]
}

// NodeOfCPU returns the id of the NUMA node the given CPU belongs to.
func (sys *System) NodeOfCPU(cpu ID) ID {
	if node, ok := sys.cpus[cpu]; ok {
		return node
	}
	return Unknown
}

// OnlineCPUs returns the set of online CPUs.
func (sys *System) OnlineCPUs() cpuset.CPUSet {
	return sys.online.CPUSet()
}

// ID returns id of this node.
func (n *Node) ID() ID {
	return n.id
}

// CPUSet returns the online CPUs of this node.
func (n *Node) CPUSet() cpuset.CPUSet {
	return n.cpus.CPUSet()
}

// Distance returns the distance vector for this node.
func (n *Node) Distance() []int {
	return n.distance
}

// DistanceFrom returns the distance of this and a given node.
func (n *Node) DistanceFrom(id ID) int {
	if int(id) < len(n.distance) {
		return n.distance[int(id)]
	}

	return -1
}
