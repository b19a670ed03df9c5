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

// Package log implements leveled, per-source logging with pluggable backends.
//
// Loggers are created per source with NewLogger. Non-debug messages of a
// source can be enabled or disabled with the -logger-sources command line
// option, debug messages with -logger-debug. The default backend writes to
// stderr using fmt, an alternative klog backend can be selected with
// -logger=klog. RateLimit wraps a Logger to throttle identical messages,
// which is useful for messages emitted from tight loops.
package log
