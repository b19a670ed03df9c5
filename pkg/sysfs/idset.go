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
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mitosis-project/repl-stress/pkg/utils/cpuset"
)

const (
	// Unknown represents an unknown id.
	Unknown ID = -1
)

// ID is an integer id, used to identify CPUs and NUMA nodes.
type ID int

// IDSet is an unordered set of integer ids.
type IDSet map[ID]struct{}

// NewIDSet creates a new unordered set of (integer) ids.
func NewIDSet(ids ...ID) IDSet {
	s := make(map[ID]struct{})

	for _, id := range ids {
		s[id] = struct{}{}
	}

	return s
}

// ParseIDSet parses a kernel list format string (eg. "0-3,8,10-11").
func ParseIDSet(str string) (IDSet, error) {
	s := NewIDSet()

	for _, entry := range strings.Split(strings.TrimSpace(str), ",") {
		if entry == "" {
			continue
		}
		rng := strings.SplitN(entry, "-", 2)
		beg, err := strconv.Atoi(rng[0])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid id list entry %q", entry)
		}
		end := beg
		if len(rng) == 2 {
			if end, err = strconv.Atoi(rng[1]); err != nil {
				return nil, errors.Wrapf(err, "invalid id list entry %q", entry)
			}
		}
		if end < beg {
			return nil, errors.Errorf("invalid id range %q", entry)
		}
		for id := beg; id <= end; id++ {
			s.Add(ID(id))
		}
	}

	return s, nil
}

// Add adds the given ids into the set.
func (s IDSet) Add(ids ...ID) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Size returns the number of ids in the set.
func (s IDSet) Size() int {
	return len(s)
}

// Has tests if all the ids are present in the set.
func (s IDSet) Has(ids ...ID) bool {
	if s == nil {
		return false
	}

	for _, id := range ids {
		if _, ok := s[id]; !ok {
			return false
		}
	}

	return true
}

// SortedMembers returns all ids in the set as a sorted slice.
func (s IDSet) SortedMembers() []ID {
	ids := make([]ID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	return ids
}

// CPUSet returns a cpuset.CPUSet corresponding to an id set.
func (s IDSet) CPUSet() cpuset.CPUSet {
	cpus := make([]int, 0, len(s))
	for id := range s {
		cpus = append(cpus, int(id))
	}
	return cpuset.New(cpus...)
}

// String returns the set as a comma-separated string.
func (s IDSet) String() string {
	str, sep := "", ""
	for _, id := range s.SortedMembers() {
		str += sep + strconv.Itoa(int(id))
		sep = ","
	}
	return str
}
