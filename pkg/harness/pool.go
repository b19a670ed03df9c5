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
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mitosis-project/repl-stress/pkg/config"
)

// Pool is a set of running workers.
type Pool struct {
	name    string
	configs []WorkerConfig
	results []WorkerResult
	wg      sync.WaitGroup
	done    chan struct{}
}

// Spawn starts one worker per config. Every worker gets its own copy of its
// config, the slice is not referenced after Spawn returns.
func Spawn(name string, env *Env, configs []WorkerConfig) *Pool {
	p := &Pool{
		name:    name,
		configs: make([]WorkerConfig, len(configs)),
		results: make([]WorkerResult, len(configs)),
		done:    make(chan struct{}),
	}
	copy(p.configs, configs)

	log.Info("%s: spawning %d workers", name, len(configs))
	for i, cfg := range p.configs {
		p.wg.Add(1)
		go func(i int, cfg WorkerConfig) {
			defer p.wg.Done()
			p.results[i] = runWorker(cfg, env)
		}(i, cfg)
	}

	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	return p
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.configs)
}

// Configs returns a copy of the worker configs of the pool.
func (p *Pool) Configs() []WorkerConfig {
	return append([]WorkerConfig(nil), p.configs...)
}

// JoinAll waits for every worker and returns their results in spawn order.
func (p *Pool) JoinAll() []WorkerResult {
	<-p.done
	return append([]WorkerResult(nil), p.results...)
}

// Wait is JoinAll giving up once ctx is done.
func (p *Pool) Wait(ctx context.Context) ([]WorkerResult, error) {
	select {
	case <-p.done:
		return p.JoinAll(), nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "%s: workers still running", p.name)
	}
}

// JoinWithin is JoinAll giving up after the given grace period.
func (p *Pool) JoinWithin(grace time.Duration) ([]WorkerResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return p.Wait(ctx)
}

// PlanWorkers creates fresh configs for a pool of fault and migration workers.
// Workers are spread over nodes round-robin, ids start at firstID.
func PlanWorkers(cfg *config.Harness, nodes []int, firstID, faults, migrators int, expected uint64) []WorkerConfig {
	configs := make([]WorkerConfig, 0, faults+migrators)
	node := func(i int) int {
		if len(nodes) == 0 {
			return 0
		}
		return nodes[i%len(nodes)]
	}

	for i := 0; i < faults; i++ {
		configs = append(configs, WorkerConfig{
			ID:             firstID + len(configs),
			Role:           FaultInducer,
			TargetNode:     node(i),
			IterationBound: cfg.FaultIterations,
			SampleEvery:    cfg.FaultSampleEvery,
			ExpectedMask:   expected,
			StrictNode:     cfg.StrictNodeMask,
		})
	}
	for i := 0; i < migrators; i++ {
		configs = append(configs, WorkerConfig{
			ID:             firstID + len(configs),
			Role:           NodeMigrator,
			TargetNode:     node(i),
			IterationBound: cfg.MigrationCycles,
			SampleEvery:    cfg.MigrationSampleEvery,
			Delay:          cfg.MigrationDelay.Std(),
			ExpectedMask:   expected,
			StrictNode:     cfg.StrictNodeMask,
		})
	}

	return configs
}

// bounds returns the completion counts the configs add up to.
func bounds(configs []WorkerConfig) (faults, migrations int64) {
	for _, c := range configs {
		switch c.Role {
		case FaultInducer:
			faults += int64(c.IterationBound)
		case NodeMigrator:
			migrations += int64(c.IterationBound)
		}
	}
	return faults, migrations
}
