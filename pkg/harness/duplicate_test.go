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
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecDuplicator(t *testing.T) {
	t.Setenv(exitEnv, "3")

	dup := &ExecDuplicator{Path: os.Args[0], Config: []byte("forks: 1\n")}
	child, err := dup.Duplicate(0, ForkStress)
	require.NoError(t, err)
	require.Greater(t, child.ID(), 0)

	code, err := child.Wait()
	require.NoError(t, err)
	require.Equal(t, 3, code)

	r := &ForkRecord{ChildID: child.ID()}
	r.classify(code, err, false)
	require.Equal(t, FailExit, r.Disposition)
}

func TestExecDuplicatorKill(t *testing.T) {
	t.Setenv(exitEnv, "sleep")

	dup := &ExecDuplicator{Path: os.Args[0]}
	child, err := dup.Duplicate(1, ForkStress)
	require.NoError(t, err)

	require.NoError(t, child.Kill())
	code, err := child.Wait()
	require.Error(t, err)
	require.Equal(t, -1, code)

	// killing a dead child is fine
	require.NoError(t, child.Kill())
}

func TestExecDuplicatorMissingBinary(t *testing.T) {
	dup := &ExecDuplicator{Path: "/nonexistent/repl-stress"}
	_, err := dup.Duplicate(0, Init)
	require.Error(t, err)
}
