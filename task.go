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
	"sync"

	"vawter.tech/stopper"
)

// TaskStrategy runs each instance as a task of a host owned stopper
// reactor.  Stopping the reactor interrupts every task it runs and stops
// the container, since no task can be launched on it again.  A failed
// body marks its incarnation failed.
type TaskStrategy struct {
	runner
	notifier *Notifier
	reactor  *stopper.Context
	stopped  sync.Once
}

// NewTaskStrategy returns a StrategyFactory that runs tasks on reactor.
// A nil reactor gets a private one.
func NewTaskStrategy(reactor *stopper.Context) StrategyFactory {
	return func(cfg StrategyConfig) Strategy {
		return newTaskStrategy(cfg, reactor)
	}
}

func newTaskStrategy(cfg StrategyConfig, reactor *stopper.Context) *TaskStrategy {
	if reactor == nil {
		reactor = stopper.WithContext(context.Background())
	}
	t := &TaskStrategy{notifier: cfg.Notifier, reactor: reactor}
	t.runner = runner{cfg: cfg, failed: t.ServiceFailed}
	return t
}

func (t *TaskStrategy) InvokeService(ctx context.Context, inst *Instance) error {
	if t.reactor.IsStopping() {
		return ErrStopping
	}
	u := newUnit(StrategyTask, inst)
	status := inst.Status()
	inst.setReference(u)
	go func() {
		defer close(u.done)
		t.perform(ctx, inst, status, u.sigs, t.spawn)
	}()
	go func() {
		select {
		case <-t.reactor.Stopping():
			t.stopped.Do(t.stopContainer)
			u.signal(SignalInterrupt)
		case <-u.done:
		}
	}()
	return nil
}

// stopContainer queues the stop ahead of the exits the interrupted tasks
// are about to send.
func (t *TaskStrategy) stopContainer() {
	if t.notifier != nil {
		t.notifier.Notify(Event{Kind: EventStop, Signal: SignalInterrupt})
	}
}

func (t *TaskStrategy) spawn(fn func()) {
	t.reactor.Go(func(*stopper.Context) error {
		fn()
		return nil
	})
}

func (t *TaskStrategy) WaitForService(inst *Instance) {
	if u, ok := inst.Reference().(*unit); ok {
		u.watch(t.notifier, inst.Status())
	}
}

func (t *TaskStrategy) StopService(inst *Instance, sig Signal) error {
	return signalUnit(inst, StrategyTask, sig)
}

func (t *TaskStrategy) ServiceFailed(inst *Instance) {
	markFailed(inst)
}
