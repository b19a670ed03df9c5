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

package log

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// logging is the runtime state of all loggers.
type logging struct {
	sync.RWMutex
	level   Level                // lowest unsuppressed severity
	active  Backend              // active backend
	backend map[string]BackendFn // registered backends
	loggers map[string]logger    // source name to logger id
	sources map[logger]string    // logger id to source name
	configs map[logger]config    // logger id to runtime configuration
	forced  bool                 // forced full debugging
	enable  srcmap               // last applied logging map
	debug   srcmap               // last applied debugging map
	align   int                  // longest source name seen
}

// our runtime logging state
var log = &logging{
	level:   DefaultLevel,
	backend: make(map[string]BackendFn),
	loggers: make(map[string]logger),
	sources: make(map[logger]string),
	configs: make(map[logger]config),
	enable:  srcmap{"*": true},
	debug:   make(srcmap),
}

// NewLogger creates a logger for the given source, or returns the existing one.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Get is an alias for NewLogger.
func Get(source string) Logger {
	return log.get(source)
}

// SetLevel sets the lowest severity level which is not suppressed.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.setLevel(level)
}

// SetBackend activates the named Backend.
func SetBackend(name string) error {
	log.Lock()
	defer log.Unlock()
	return log.setBackend(name)
}

// EnableLogging enables or disables non-debug logging for the given sources.
func EnableLogging(state bool, sources ...string) {
	log.Lock()
	defer log.Unlock()
	m := make(srcmap)
	for _, src := range sources {
		m[src] = state
	}
	log.update(m, nil)
}

// EnableDebug enables or disables debug logging for the given sources.
func EnableDebug(state bool, sources ...string) {
	log.Lock()
	defer log.Unlock()
	m := make(srcmap)
	for _, src := range sources {
		m[src] = state
	}
	log.update(nil, m)
}

// Flush flushes any buffered messages of the active backend.
func Flush() {
	log.RLock()
	active := log.active
	log.RUnlock()
	if active != nil {
		active.Flush()
	}
}

// Sync waits until all pending messages of the active backend are emitted.
func Sync() {
	log.RLock()
	active := log.active
	log.RUnlock()
	if active != nil {
		active.Sync()
	}
}

// get looks up or creates the logger for source.
func (log *logging) get(source string) logger {
	source = strings.Trim(source, "[] ")

	log.Lock()
	defer log.Unlock()

	if l, ok := log.loggers[source]; ok {
		return l
	}
	if len(log.loggers) >= maxLoggers {
		panic(loggerError("too many loggers, can't create one for %q", source))
	}

	l := logger(len(log.loggers))
	log.loggers[source] = l
	log.sources[l] = source
	log.configs[l] = mkConfig(l, log.enable.enabled(source), log.debug.enabled(source))

	if len(source) > log.align {
		log.align = len(source)
		if log.active != nil {
			log.active.SetSourceAlignment(log.align)
		}
	}

	return l
}

// setLevel sets the logging severity level, with the lock held.
func (log *logging) setLevel(level Level) {
	log.level = level
}

// setBackend activates the named backend, with the lock held.
func (log *logging) setBackend(name string) error {
	if log.active != nil && log.active.Name() == name {
		return nil
	}
	fn, ok := log.backend[name]
	if !ok {
		return loggerError("can't activate unknown backend %q (known: %s)",
			name, strings.Join(log.backendNames(), ","))
	}
	if log.active != nil {
		log.active.Sync()
		log.active.Stop()
	}
	log.active = fn()
	log.active.SetSourceAlignment(log.align)
	return nil
}

// update reconfigures loggers using the given logging and debugging maps.
func (log *logging) update(enable, debug srcmap) {
	if enable != nil {
		log.enable.copy(enable)
	}
	if debug != nil {
		log.debug.copy(debug)
	}
	for l, cfg := range log.configs {
		source := log.sources[l]
		cfg.setLogging(log.enable.enabled(source))
		cfg.setDebugging(log.debug.enabled(source))
		log.configs[l] = cfg
	}
}

func (log *logging) backendNames() []string {
	names := make([]string, 0, len(log.backend))
	for name := range log.backend {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}

func init() {
	log.active = createFmtBackend()
}
