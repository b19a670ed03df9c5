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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/mitosis-project/repl-stress/pkg/config"
)

func parsedCommand(t *testing.T, args ...string) (*cobra.Command, *config.Harness) {
	flags := config.Default()
	cmd := &cobra.Command{Use: "run"}
	addHarnessFlags(cmd.Flags(), flags)
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd, flags
}

func TestLoadConfigFlagsOnly(t *testing.T) {
	cmd, flags := parsedCommand(t, "--forks=7", "--variant=sequential", "--fork-delay=2ms")

	cfg, err := loadConfig(cmd, "", flags)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Forks)
	require.Equal(t, config.Sequential, cfg.Variant)
	require.Equal(t, 2*time.Millisecond, cfg.ForkDelay.Std())
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.yaml")
	require.NoError(t, os.WriteFile(path, []byte("forks: 3\nvariant: sequential\nprobe: fake\n"), 0644))

	cmd, flags := parsedCommand(t, "--forks=9", "--timeout=1m")

	cfg, err := loadConfig(cmd, path, flags)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Forks)
	require.Equal(t, time.Minute, cfg.Timeout.Std())
	require.Equal(t, config.Sequential, cfg.Variant)
	require.Equal(t, config.ProbeFake, cfg.Probe)
	require.Equal(t, 4, cfg.FaultWorkers)
}

func TestLoadConfigInvalid(t *testing.T) {
	cmd, flags := parsedCommand(t, "--forks=-1")
	_, err := loadConfig(cmd, "", flags)
	require.Error(t, err)

	_, err = loadConfig(cmd, filepath.Join(t.TempDir(), "missing.yaml"), flags)
	require.Error(t, err)
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"run", "child", "probe", "topology", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, cmd.Name())
	}
	require.NotNil(t, root.PersistentFlags().Lookup("logger-debug"))
}
