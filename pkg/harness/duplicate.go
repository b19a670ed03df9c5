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

package harness

import (
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

const (
	// ChildCommand is the command line verb of a duplicate.
	ChildCommand = "child"
	// ConfigEnv passes the run configuration to duplicates.
	ConfigEnv = "REPL_STRESS_CONFIG"
	// IndexFlag and PhaseFlag pass launch index and inherited phase.
	IndexFlag = "index"
	PhaseFlag = "inherited-phase"
)

// ExecDuplicator duplicates the process by re-executing its own binary in
// child mode. The duplicate shares the parent's stdout and stderr.
type ExecDuplicator struct {
	// Path is the binary to run, os.Args[0] if empty.
	Path string
	// Config is the marshalled run configuration.
	Config []byte
	// Args are extra arguments, for instance logger flags.
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

type execChild struct {
	cmd *exec.Cmd
}

// Duplicate starts a new duplicate.
func (d *ExecDuplicator) Duplicate(index int, inherited Phase) (Child, error) {
	path := d.Path
	if path == "" {
		path = os.Args[0]
	}

	args := []string{
		ChildCommand,
		"--" + IndexFlag + "=" + strconv.Itoa(index),
		"--" + PhaseFlag + "=" + inherited.String(),
	}
	args = append(args, d.Args...)

	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), ConfigEnv+"="+string(d.Config))
	cmd.Stdout = d.Stdout
	cmd.Stderr = d.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start duplicate #%d", index)
	}

	return &execChild{cmd: cmd}, nil
}

func (c *execChild) ID() int {
	return c.cmd.Process.Pid
}

func (c *execChild) Wait() (int, error) {
	err := c.cmd.Wait()
	state := c.cmd.ProcessState
	if state == nil {
		return -1, errors.Wrapf(err, "failed to wait for child %d", c.ID())
	}
	if code := state.ExitCode(); code >= 0 {
		return code, nil
	}
	return -1, errors.Errorf("child %d: %s", c.ID(), state.String())
}

func (c *execChild) Kill() error {
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrapf(err, "failed to kill child %d", c.ID())
	}
	return nil
}

// ChildFunc is the entry point of an in-process duplicate. It returns the
// exit code of the duplicate and stops early once abort is closed.
type ChildFunc func(index int, inherited Phase, abort <-chan struct{}) int

// FuncDuplicator runs duplicates as goroutines, each one on a snapshot of
// whatever state Run sets up for it.
type FuncDuplicator struct {
	Run    ChildFunc
	nextID atomic.Int64
}

type funcChild struct {
	id    int
	done  chan int
	abort chan struct{}
	once  sync.Once
}

// Duplicate starts a new in-process duplicate.
func (d *FuncDuplicator) Duplicate(index int, inherited Phase) (Child, error) {
	if d.Run == nil {
		return nil, errors.New("no child function")
	}

	c := &funcChild{
		id:    int(d.nextID.Inc()),
		done:  make(chan int, 1),
		abort: make(chan struct{}),
	}

	go func() {
		c.done <- d.Run(index, inherited, c.abort)
	}()

	return c, nil
}

func (c *funcChild) ID() int {
	return c.id
}

func (c *funcChild) Wait() (int, error) {
	return <-c.done, nil
}

func (c *funcChild) Kill() error {
	c.once.Do(func() { close(c.abort) })
	return nil
}
