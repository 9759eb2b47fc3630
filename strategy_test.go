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
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/goleak"
	"vawter.tech/stopper"
)

// nextEvent waits briefly for an event.
func nextEvent(n *Notifier) (Event, bool) {
	ch := make(chan Event, 1)
	go func() {
		if ev, ok := n.Next(); ok {
			ch <- ev
		}
	}()
	select {
	case ev := <-ch:
		return ev, true
	case <-time.After(5 * time.Second):
		return Event{}, false
	}
}

func launch(s Strategy, inst *Instance) (*Status, error) {
	status := inst.incarnate(time.Now())
	if e := s.InvokeService(context.Background(), inst); e != nil {
		return status, e
	}
	s.WaitForService(inst)
	return status, nil
}

func TestThreadStrategy(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	Convey("Given a thread strategy", t, func() {
		n := NewNotifier()
		var reported error
		s := NewThreadStrategy(StrategyConfig{
			Notifier:    n,
			Restartable: true,
			Reporter:    ReporterFunc(func(_ *Instance, e error) { reported = e }),
		})

		Convey("A body that returns resolves to success", func() {
			inst := NewInstance(NewService("ok", func(context.Context, *Instance) error {
				return nil
			}))
			status, e := launch(s, inst)
			So(e, ShouldBeNil)
			ev, ok := nextEvent(n)
			So(ok, ShouldBeTrue)
			So(ev.Kind, ShouldEqual, EventExit)
			So(ev.ID, ShouldEqual, inst.ID())
			So(ev.Status, ShouldEqual, status)
			So(status.Succeeded(), ShouldBeTrue)
			So(inst.Reference(), ShouldBeNil)
			So(reported, ShouldBeNil)
		})

		Convey("A body error marks the incarnation failed", func() {
			inst := NewInstance(NewService("bad", func(context.Context, *Instance) error {
				return errors.New("Injected failure")
			}))
			status, _ := launch(s, inst)
			_, ok := nextEvent(n)
			So(ok, ShouldBeTrue)
			So(status.Failed(), ShouldBeTrue)
			var se *ServiceError
			So(errors.As(reported, &se), ShouldBeTrue)
			So(se.Service, ShouldEqual, "bad")
		})

		Convey("A status set by the body is kept", func() {
			inst := NewInstance(NewService("self", func(_ context.Context, inst *Instance) error {
				inst.Status().MarkFailed()
				return nil
			}))
			status, _ := launch(s, inst)
			_, ok := nextEvent(n)
			So(ok, ShouldBeTrue)
			So(status.Failed(), ShouldBeTrue)
			So(reported, ShouldBeNil)
		})

		Convey("Stopping a finished instance is not an error", func() {
			inst := NewInstance(NewService("ok", func(context.Context, *Instance) error {
				return nil
			}))
			launch(s, inst)
			_, ok := nextEvent(n)
			So(ok, ShouldBeTrue)
			So(s.StopService(inst, SignalInterrupt), ShouldBeNil)
			So(s.StopService(inst, SignalTerminate), ShouldBeNil)
		})

		Convey("Interrupt cancels the body and calls the stop hook", func() {
			stopped := make(chan struct{})
			var cause error
			inst := NewInstance(NewService("wait", func(ctx context.Context, _ *Instance) error {
				<-ctx.Done()
				cause = context.Cause(ctx)
				return ctx.Err()
			}, WithStop(func(*Instance) { close(stopped) })))
			status, _ := launch(s, inst)
			So(inst.Reference().Kind(), ShouldEqual, StrategyThread)
			So(s.StopService(inst, SignalInterrupt), ShouldBeNil)
			_, ok := nextEvent(n)
			So(ok, ShouldBeTrue)
			So(status.Succeeded(), ShouldBeTrue)
			So(cause, ShouldEqual, ErrInterrupt)
			_, open := <-stopped
			So(open, ShouldBeFalse)
			So(reported, ShouldBeNil)
		})
	})
}

func TestTaskStrategy(t *testing.T) {
	Convey("Given a task strategy on a reactor", t, func() {
		n := NewNotifier()
		reactor := stopper.WithContext(context.Background())
		s := NewTaskStrategy(reactor)(StrategyConfig{Notifier: n})
		Reset(func() {
			reactor.Stop(time.Second)
			reactor.Wait()
		})

		Convey("A body error marks the incarnation failed", func() {
			inst := NewInstance(NewService("bad", func(context.Context, *Instance) error {
				return errors.New("Injected failure")
			}, WithKind(StrategyTask)))
			status, e := launch(s, inst)
			So(e, ShouldBeNil)
			_, ok := nextEvent(n)
			So(ok, ShouldBeTrue)
			So(status.Failed(), ShouldBeTrue)
		})

		Convey("Stopping the reactor interrupts its tasks", func() {
			var cause error
			inst := NewInstance(NewService("wait", func(ctx context.Context, _ *Instance) error {
				<-ctx.Done()
				cause = context.Cause(ctx)
				return nil
			}))
			status, e := launch(s, inst)
			So(e, ShouldBeNil)
			So(inst.Reference().Kind(), ShouldEqual, StrategyTask)
			reactor.Stop(time.Second)
			ev, ok := nextEvent(n)
			So(ok, ShouldBeTrue)
			So(ev.Kind, ShouldEqual, EventStop)
			So(ev.Signal, ShouldEqual, SignalInterrupt)
			ev, ok = nextEvent(n)
			So(ok, ShouldBeTrue)
			So(ev.Kind, ShouldEqual, EventExit)
			So(status.Succeeded(), ShouldBeTrue)
			So(cause, ShouldEqual, ErrInterrupt)

			_, e = launch(s, NewInstance(NewService("late", nil)))
			So(e, ShouldEqual, ErrStopping)
		})
	})
}

func TestContainerWithTasks(t *testing.T) {
	Convey("A container can run its services as tasks", t, func() {
		p := newRecorder()
		reactor := stopper.WithContext(context.Background())
		reg := NewRegistry(NewService("foo", p.blocker, WithCount(2), WithRestart(false)))
		c := NewContainer(reg, Formation{{Name: "foo", Count: DefaultCount}},
			SetTestLogger(t, []Option{WithTasks(reactor)})...)
		So(c.Run(context.Background()), ShouldBeNil)
		So(p.await(2), ShouldBeTrue)
		So(c.Info().Live, ShouldEqual, 2)

		reactor.Stop(time.Second)
		So(c.Wait(context.Background()), ShouldBeNil)
		So(c.Success(), ShouldBeTrue)
		So(len(c.Live()), ShouldEqual, 0)
	})
}

func TestContainerReactorStop(t *testing.T) {
	Convey("Stopping the reactor stops a container of restartable tasks", t, func() {
		p := newRecorder()
		reactor := stopper.WithContext(context.Background())
		reg := NewRegistry(NewService("foo", p.blocker, WithCount(2), WithStop(p.stop)))
		c := NewContainer(reg, Formation{{Name: "foo", Count: DefaultCount}},
			SetTestLogger(t, []Option{WithTasks(reactor)})...)
		So(c.Run(context.Background()), ShouldBeNil)
		So(p.await(2), ShouldBeTrue)

		done := make(chan struct{})
		go func() {
			defer close(done)
			c.Wait(context.Background())
		}()
		reactor.Stop(time.Second)
		So(waitDone(done), ShouldBeTrue)
		So(c.Phase(), ShouldEqual, PhaseDrained)
		So(c.Success(), ShouldBeTrue)
		So(len(c.Statuses()), ShouldEqual, 2)
		So(c.Info().Pending, ShouldEqual, 0)
		So(p.Launches(), ShouldEqual, 2)
		So(p.Stops(), ShouldEqual, 2)
		So(logCount(c, "launch failed"), ShouldEqual, 0)
	})

	Convey("A container started on a stopped reactor drains at once", t, func() {
		reactor := stopper.WithContext(context.Background())
		reactor.Stop(time.Second)
		reactor.Wait()
		reg := NewRegistry(NewService("foo", nil))
		c := NewContainer(reg, Formation{{Name: "foo", Count: 2}},
			SetTestLogger(t, []Option{WithTasks(reactor)})...)
		So(c.Run(context.Background()), ShouldBeNil)

		done := make(chan struct{})
		go func() {
			defer close(done)
			c.Wait(context.Background())
		}()
		So(waitDone(done), ShouldBeTrue)
		So(c.Success(), ShouldBeTrue)
		So(len(c.Statuses()), ShouldEqual, 0)
		So(logCount(c, "not launched"), ShouldEqual, 2)
	})
}

func TestHybridRouting(t *testing.T) {
	Convey("The hybrid strategy honors the service kind", t, func() {
		n := NewNotifier()
		s := NewHybridStrategy(StrategyConfig{Notifier: n})
		inst := NewInstance(NewService("thread", func(context.Context, *Instance) error {
			return nil
		}, WithKind(StrategyThread)))
		status, e := launch(s, inst)
		So(e, ShouldBeNil)
		_, ok := nextEvent(n)
		So(ok, ShouldBeTrue)
		So(status.Succeeded(), ShouldBeTrue)

		h := s.(*HybridStrategy)
		So(h.pick(inst), ShouldEqual, h.thread)
		task := NewInstance(NewService("task", nil, WithKind(StrategyTask)))
		So(h.pick(task), ShouldEqual, h.thread)
		deflt := NewInstance(NewService("default", nil))
		if CanFork {
			So(h.pick(deflt), ShouldEqual, h.process)
		} else {
			So(h.pick(deflt), ShouldEqual, h.thread)
		}
	})
}
