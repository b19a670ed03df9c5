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

package metrics

import (
	"io"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	logger "github.com/mitosis-project/repl-stress/pkg/log"
)

// InitCollector is the type for functions that initialize collectors.
type InitCollector func() (prometheus.Collector, error)

// Registry is a set of named collectors.
type Registry struct {
	sync.Mutex
	collectors map[string]InitCollector
}

var (
	// our logger instance
	log = logger.NewLogger("metrics")
	// the default registry
	defaultRegistry = NewRegistry()
)

// NewRegistry creates an empty collector Registry.
func NewRegistry() *Registry {
	return &Registry{collectors: make(map[string]InitCollector)}
}

// RegisterCollector registers the named collector in the default Registry.
func RegisterCollector(name string, init InitCollector) error {
	return defaultRegistry.Register(name, init)
}

// NewMetricGatherer creates a prometheus.Gatherer for the default Registry.
func NewMetricGatherer() (prometheus.Gatherer, error) {
	return defaultRegistry.Gatherer()
}

// Register registers the named collector.
func (r *Registry) Register(name string, init InitCollector) error {
	r.Lock()
	defer r.Unlock()

	if _, found := r.collectors[name]; found {
		return metricsError("collector %s already registered", name)
	}
	log.Debug("registering collector %s...", name)
	r.collectors[name] = init

	return nil
}

// Gatherer creates a prometheus.Gatherer with all registered collectors.
func (r *Registry) Gatherer() (prometheus.Gatherer, error) {
	r.Lock()
	defer r.Unlock()

	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)

	reg := prometheus.NewPedanticRegistry()
	for _, name := range names {
		c, err := r.collectors[name]()
		if err != nil {
			log.Error("failed to initialize collector %s: %v, skipping it", name, err)
			continue
		}
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrapf(err, "failed to register collector %s", name)
		}
	}

	return reg, nil
}

// WriteText gathers metrics and writes them in text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return errors.Wrap(err, "failed to gather metrics")
	}

	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return errors.Wrapf(err, "failed to encode metric %s", mf.GetName())
		}
	}

	return nil
}

func metricsError(format string, args ...interface{}) error {
	return errors.Errorf("metrics: "+format, args...)
}
