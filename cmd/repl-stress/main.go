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
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	logger "github.com/mitosis-project/repl-stress/pkg/log"
)

const (
	exitPass = 0
	exitFail = 1
)

// errFailed is returned by commands which already reported their failure.
var errFailed = errors.New("failed")

// our logger instance
var log = logger.NewLogger("main")

func main() {
	logger.SetupDebugToggleSignal(unix.SIGUSR1)

	code := execute(os.Args[1:])
	logger.Flush()
	os.Exit(code)
}

// execute runs the command line args and returns the exit code.
func execute(args []string) int {
	root := newRootCommand()
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		if err != errFailed {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		}
		return exitFail
	}
	return exitPass
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "repl-stress",
		Short:         "Stress page table replication with threads, migrations and forks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	root.AddCommand(
		newRunCommand(),
		newChildCommand(),
		newProbeCommand(),
		newTopologyCommand(),
		newVersionCommand(),
	)

	return root
}

// passf and failf print the human-readable verdict lines.
func passf(format string, args ...interface{}) {
	fmt.Printf("PASS: "+format+"\n", args...)
}

func failf(format string, args ...interface{}) {
	fmt.Printf("FAIL: "+format+"\n", args...)
}

func infof(format string, args ...interface{}) {
	fmt.Printf("INFO: "+format+"\n", args...)
}

// goFlagArgs returns the logger flags set on the command line, to pass them
// on to duplicates.
func goFlagArgs(cmd *cobra.Command) []string {
	args := []string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if flag.CommandLine.Lookup(f.Name) != nil {
			args = append(args, "--"+f.Name+"="+f.Value.String())
		}
	})
	return args
}
