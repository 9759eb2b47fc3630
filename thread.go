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
	"runtime"
)

// ThreadStrategy runs each instance on a goroutine locked to its own OS
// thread.  Bodies share the supervisor's address space.  A failed body
// marks its incarnation failed.
type ThreadStrategy struct {
	runner
	notifier *Notifier
}

// NewThreadStrategy is a StrategyFactory.
func NewThreadStrategy(cfg StrategyConfig) Strategy {
	return newThreadStrategy(cfg)
}

func newThreadStrategy(cfg StrategyConfig) *ThreadStrategy {
	t := &ThreadStrategy{notifier: cfg.Notifier}
	t.runner = runner{cfg: cfg, failed: t.ServiceFailed}
	return t
}

func (t *ThreadStrategy) InvokeService(ctx context.Context, inst *Instance) error {
	u := newUnit(StrategyThread, inst)
	status := inst.Status()
	inst.setReference(u)
	go func() {
		defer close(u.done)
		t.perform(ctx, inst, status, u.sigs, lockedThread)
	}()
	return nil
}

// lockedThread runs fn on a goroutine that owns its OS thread.
func lockedThread(fn func()) {
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		fn()
	}()
}

func (t *ThreadStrategy) WaitForService(inst *Instance) {
	if u, ok := inst.Reference().(*unit); ok {
		u.watch(t.notifier, inst.Status())
	}
}

func (t *ThreadStrategy) StopService(inst *Instance, sig Signal) error {
	return signalUnit(inst, StrategyThread, sig)
}

func (t *ThreadStrategy) ServiceFailed(inst *Instance) {
	markFailed(inst)
}
