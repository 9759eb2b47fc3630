// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runnable

import (
	"context"
)

// HybridStrategy routes each instance to a process or thread strategy
// based on the kind the service asks for.  Services that do not ask run
// as processes where the platform can fork, else as threads.  Services
// asking for tasks run as tasks when a task strategy was supplied, else
// as threads.
type HybridStrategy struct {
	process Strategy
	thread  Strategy
	task    Strategy
	deflt   StrategyKind
}

// NewHybridStrategy is a StrategyFactory.
func NewHybridStrategy(cfg StrategyConfig) Strategy {
	return newHybridStrategy(cfg, nil)
}

// NewHybridTaskStrategy is like NewHybridStrategy, but also routes task
// services to tasks.
func NewHybridTaskStrategy(tasks StrategyFactory) StrategyFactory {
	return func(cfg StrategyConfig) Strategy {
		return newHybridStrategy(cfg, tasks(cfg))
	}
}

func newHybridStrategy(cfg StrategyConfig, task Strategy) *HybridStrategy {
	h := &HybridStrategy{
		process: NewProcessStrategy(cfg),
		thread:  NewThreadStrategy(cfg),
		task:    task,
		deflt:   StrategyThread,
	}
	if CanFork {
		h.deflt = StrategyProcess
	}
	return h
}

func (h *HybridStrategy) pick(inst *Instance) Strategy {
	kind := inst.Strategy()
	if ref := inst.Reference(); ref != nil {
		kind = ref.Kind()
	}
	switch kind {
	case StrategyProcess:
		if CanFork {
			return h.process
		}
	case StrategyTask:
		if h.task != nil {
			return h.task
		}
	case StrategyDefault:
		if h.deflt == StrategyProcess {
			return h.process
		}
	}
	return h.thread
}

func (h *HybridStrategy) InvokeService(ctx context.Context, inst *Instance) error {
	return h.pick(inst).InvokeService(ctx, inst)
}

func (h *HybridStrategy) WaitForService(inst *Instance) {
	h.pick(inst).WaitForService(inst)
}

func (h *HybridStrategy) StopService(inst *Instance, sig Signal) error {
	return h.pick(inst).StopService(inst, sig)
}

func (h *HybridStrategy) ServiceFailed(inst *Instance) {
	h.pick(inst).ServiceFailed(inst)
}
