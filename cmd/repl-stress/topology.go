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

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mitosis-project/repl-stress/pkg/sysfs"
	"github.com/mitosis-project/repl-stress/pkg/utils/cpuset"
)

func newTopologyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Print the NUMA topology",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			sys, err := sysfs.DiscoverSystem()
			if err != nil {
				return err
			}

			infof("online CPUs: %s", cpuset.ShortCPUSet(sys.OnlineCPUs()))
			infof("NUMA nodes: %d", sys.NodeCount())
			for _, id := range sys.NodeIDs() {
				node := sys.Node(id)
				distance := []string{}
				for _, d := range node.Distance() {
					distance = append(distance, fmt.Sprint(d))
				}
				infof("node #%d: CPUs %s, distance [%s]", id, cpuset.ShortCPUSet(node.CPUSet()),
					strings.Join(distance, " "))
			}
			return nil
		},
	}
}
