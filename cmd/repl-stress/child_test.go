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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mitosis-project/repl-stress/pkg/config"
	"github.com/mitosis-project/repl-stress/pkg/harness"
	"github.com/mitosis-project/repl-stress/pkg/probe"
)

func setChildConfig(t *testing.T, data string) {
	if data == "" {
		cfg := config.Default()
		cfg.Probe = config.ProbeFake
		cfg.FakeNodes = 2
		out, err := cfg.Marshal()
		require.NoError(t, err)
		data = string(out)
	}
	t.Setenv(harness.ConfigEnv, data)
}

func childArgs(phase string) []string {
	return []string{harness.ChildCommand, "--" + harness.IndexFlag + "=3", "--" + harness.PhaseFlag + "=" + phase}
}

func TestChildCommandPass(t *testing.T) {
	setChildConfig(t, "")
	require.Equal(t, exitPass, execute(childArgs(harness.ForkStress.String())))
}

func TestChildCommandInheritedState(t *testing.T) {
	setChildConfig(t, "")

	newProbe = func(cfg *config.Harness, topo harness.Topology) probe.Probe {
		parent := probe.NewFake(probe.FakeOptions{Nodes: topo.NodeCount(), InheritOnFork: true})
		_, err := parent.Enable(probe.AllNodes)
		require.NoError(t, err)
		return parent.Fork()
	}
	defer func() { newProbe = probeFor }()

	require.Equal(t, exitFail, execute(childArgs(harness.ForkStress.String())))
}

func TestChildCommandInvalidInput(t *testing.T) {
	setChildConfig(t, "")
	require.Equal(t, exitFail, execute(childArgs("Forking")))

	setChildConfig(t, "forks: many\n")
	require.Equal(t, exitFail, execute(childArgs(harness.Init.String())))
}
