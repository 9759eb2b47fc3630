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
	"errors"
	"fmt"
	"io"
	"log"
	"runtime/debug"
)

// Strategy is a way of executing service instances.  All strategies used
// by a container share its Notifier.
type Strategy interface {
	// InvokeService launches the instance body and stores its reference.
	// It does not wait for the body.
	InvokeService(ctx context.Context, inst *Instance) error

	// WaitForService arranges for completion of the current incarnation
	// to be detected.  On completion the status is resolved, with
	// unknown becoming success, and an EventExit is sent.
	WaitForService(inst *Instance)

	// StopService delivers sig to the live reference.  An instance that
	// is already gone is not an error.
	StopService(inst *Instance, sig Signal) error

	// ServiceFailed is called when the body of the instance failed.
	ServiceFailed(inst *Instance)
}

// StrategyFactory builds a strategy from the container configuration.
type StrategyFactory func(StrategyConfig) Strategy

// StrategyConfig is what the container hands to its strategies.
type StrategyConfig struct {
	Notifier    *Notifier
	Reporter    Reporter
	Logger      *log.Logger
	Restartable bool

	// Command is used by the process strategy to launch children.  The
	// zero value runs the current executable with the current arguments.
	Command ChildCommand
}

func (cfg StrategyConfig) logger() *log.Logger {
	if cfg.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return cfg.Logger
}

func (cfg StrategyConfig) report(inst *Instance, e error) {
	if cfg.Reporter != nil {
		cfg.Reporter.Report(inst, e)
	} else {
		cfg.logger().Printf("%v: %v", inst, e)
	}
}

// Reporter is the diagnostic sink for errors raised by service bodies.
// Control conditions are never reported.
type Reporter interface {
	Report(inst *Instance, err error)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(*Instance, error)

func (f ReporterFunc) Report(inst *Instance, err error) {
	f(inst, err)
}

// runner executes a single incarnation of a body with its own signal
// channel.  It is shared by every strategy that runs the body in this
// address space, including the child side of the process strategy.
type runner struct {
	cfg    StrategyConfig
	failed func(*Instance)
}

// spawner starts fn on the execution unit chosen by a strategy.
type spawner func(fn func())

func goroutine(fn func()) {
	go fn()
}

// perform runs the body, started with spawn, until it returns or a signal
// ends it.  Restart is honored only when the container is restartable.
// Interrupt and restart cancel the body and wait for it, then call the
// stop hook.  Terminate cancels the body and returns at once, without the
// stop hook.  On return the status has left unknown.
func (r *runner) perform(ctx context.Context, inst *Instance, status *Status, sigs <-chan Signal, spawn spawner) {
	bctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancel(nil)

	result := make(chan error, 1)
	spawn(func() {
		result <- r.body(bctx, inst)
	})

	for {
		select {
		case e := <-result:
			if e != nil && !r.control(bctx, e) {
				r.fail(inst, e)
			}
			r.stop(inst)
			status.MarkSuccess()
			return

		case sig := <-sigs:
			switch sig {
			case SignalRestart:
				if !r.cfg.Restartable {
					r.cfg.logger().Printf("%v: ignoring restart", inst)
					continue
				}
				cancel(ErrRestart)
			case SignalInterrupt:
				cancel(ErrInterrupt)
			case SignalTerminate:
				cancel(ErrTerminate)
				status.MarkSuccess()
				return
			}
		}
	}
}

// body calls Run, turning a panic into an error.
func (r *runner) body(ctx context.Context, inst *Instance) (e error) {
	defer func() {
		if v := recover(); v != nil {
			e = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return inst.def.Run(ctx, inst)
}

func (r *runner) stop(inst *Instance) {
	defer func() {
		if v := recover(); v != nil {
			r.cfg.report(inst, &PanicError{Value: v, Stack: debug.Stack()})
		}
	}()
	inst.Stop()
}

// control reports whether e is the body unwinding because of a signal.
func (r *runner) control(ctx context.Context, e error) bool {
	if IsControl(e) {
		return true
	}
	if ctx.Err() != nil && IsControl(context.Cause(ctx)) {
		return errors.Is(e, context.Canceled)
	}
	return false
}

func (r *runner) fail(inst *Instance, e error) {
	r.cfg.report(inst, &ServiceError{Service: inst.Name(), ID: inst.ID(), Err: e})
	if r.failed != nil {
		r.failed(inst)
	}
}

// markFailed is the failure escalation for strategies that run the body
// in this process.
func markFailed(inst *Instance) {
	inst.Status().MarkFailed()
}

// unit is the reference for a body running in this address space.
type unit struct {
	kind StrategyKind
	inst *Instance
	sigs chan Signal
	done chan struct{}
}

func newUnit(kind StrategyKind, inst *Instance) *unit {
	return &unit{
		kind: kind,
		inst: inst,
		sigs: make(chan Signal, 1),
		done: make(chan struct{}),
	}
}

func (u *unit) Kind() StrategyKind {
	return u.kind
}

func (u *unit) String() string {
	return fmt.Sprintf("%s:%s", u.kind, shortID(u.inst.ID()))
}

// signal delivers sig unless the unit has already finished.
func (u *unit) signal(sig Signal) {
	select {
	case u.sigs <- sig:
	case <-u.done:
	}
}

// watch sends the exit event once the unit finishes.
func (u *unit) watch(n *Notifier, status *Status) {
	go func() {
		<-u.done
		status.MarkSuccess()
		u.inst.clearReference(u)
		n.Notify(Event{Kind: EventExit, ID: u.inst.ID(), Status: status})
	}()
}

// signalUnit looks up the live unit of inst and signals it.
func signalUnit(inst *Instance, kind StrategyKind, sig Signal) error {
	ref := inst.Reference()
	if ref == nil {
		return nil
	}
	u, ok := ref.(*unit)
	if !ok || u.kind != kind {
		return fmt.Errorf("%w: %v", ErrNoReference, ref)
	}
	u.signal(sig)
	return nil
}
