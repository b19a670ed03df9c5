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

// Package harness validates invariants of per-process page table
// replication under concurrent mutation.
//
// A run enables replication, starts workers that fault memory in and
// migrate between NUMA nodes, duplicates the process repeatedly while they
// run, checks that every duplicate starts with replication reset, and
// aggregates counters from all of these into a single Verdict.
package harness

import (
	logger "github.com/mitosis-project/repl-stress/pkg/log"
)

// our logger instance
var log = logger.NewLogger("harness")
