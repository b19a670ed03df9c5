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
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mitosis-project/repl-stress/pkg/probe"
)

func newProbeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Query or change the replication state of this process",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the replication state",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return printState(probe.NewPrctl())
			},
		},
		&cobra.Command{
			Use:   "enable [MASK]",
			Short: "Enable replication, on all nodes by default",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				mask := probe.AllNodes
				if len(args) > 0 {
					m, err := strconv.ParseUint(args[0], 0, 64)
					if err != nil {
						return errors.Wrapf(err, "invalid mask %q", args[0])
					}
					mask = m
				}
				return enable(probe.NewPrctl(), mask)
			},
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Disable replication",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				p := probe.NewPrctl()
				if err := p.Disable(); err != nil {
					failf("cannot disable replication: %v", err)
					return errFailed
				}
				return printState(p)
			},
		},
	)

	return cmd
}

func enable(p probe.Probe, mask uint64) error {
	applied, err := p.Enable(mask)
	if err != nil {
		failf("cannot enable replication with mask %#x: %v", mask, err)
		return errFailed
	}
	passf("replication enabled with mask %#x, applied %#x", mask, applied)

	again, err := p.Enable(mask)
	switch {
	case err != nil:
		failf("repeated enable failed: %v", err)
		return errFailed
	case again != applied:
		failf("repeated enable applied %#x, first one %#x", again, applied)
		return errFailed
	}
	passf("repeated enable is idempotent")

	return printState(p)
}

func printState(p probe.Probe) error {
	mask, err := p.Query()
	if err != nil {
		failf("cannot query replication state: %v", err)
		return errFailed
	}
	if mask == probe.Disabled {
		infof("replication disabled")
	} else {
		infof("replication enabled, node mask %#x", mask)
	}
	return nil
}
