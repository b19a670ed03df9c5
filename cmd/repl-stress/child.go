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
	"os"

	"github.com/spf13/cobra"

	"github.com/mitosis-project/repl-stress/pkg/config"
	"github.com/mitosis-project/repl-stress/pkg/harness"
)

func newChildCommand() *cobra.Command {
	index := 0
	phase := harness.Init.String()

	cmd := &cobra.Command{
		Use:    harness.ChildCommand,
		Short:  "Validate the state of a duplicate",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name := fmt.Sprintf("Child%d", index)

			inherited, err := harness.ParsePhase(phase)
			if err != nil {
				return err
			}

			cfg := config.Default()
			if data, ok := os.LookupEnv(harness.ConfigEnv); ok {
				if err := cfg.Parse([]byte(data)); err != nil {
					return err
				}
			}

			topo, err := topologyFor(cfg)
			if err != nil {
				return err
			}

			err = harness.RunChild(harness.ChildEnv{
				Index:     index,
				Inherited: inherited,
				Config:    cfg,
				Probe:     newProbe(cfg, topo),
				Topology:  topo,
			})
			if err != nil {
				fmt.Printf("[%s] FAIL: %v\n", name, err)
				return errFailed
			}

			fmt.Printf("[%s] PASS (inherited phase %s)\n", name, inherited)
			return nil
		},
	}

	cmd.Flags().IntVar(&index, harness.IndexFlag, index, "launch index of the duplicate")
	cmd.Flags().StringVar(&phase, harness.PhaseFlag, phase, "phase of the parent at duplication")

	return cmd
}
