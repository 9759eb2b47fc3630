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
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestFormationDefaultCount(t *testing.T) {
	p := newRecorder()
	reg := NewRegistry(NewService("foo", p.blocker, WithStop(p.stop)))
	f := Formation{{Name: "foo", Count: DefaultCount}}

	Convey("A default count launches one instance", t,
		WithContainer(t, reg, f, []Option{WithThreads()}, func(c *Container, done <-chan struct{}) {
			So(p.await(1), ShouldBeTrue)
			So(len(c.Live()), ShouldEqual, 1)
			So(c.Phase(), ShouldEqual, PhaseRunning)

			Convey("Interrupt stops it gracefully", func() {
				c.Interrupt()
				So(waitDone(done), ShouldBeTrue)
				So(c.Phase(), ShouldEqual, PhaseDrained)
				So(c.Stopping(), ShouldBeTrue)
				So(c.Success(), ShouldBeTrue)
				So(p.Stops(), ShouldEqual, 1)
				So(p.causes[0], ShouldEqual, ErrInterrupt)
				for _, s := range c.Statuses() {
					So(s.Succeeded(), ShouldBeTrue)
				}
			})
		}))
}

func TestLimitClipsCount(t *testing.T) {
	p := newRecorder()
	reg := NewRegistry(NewService("foo", p.blocker, WithLimit(2)))
	f := Formation{{Name: "foo", Count: 3}}

	Convey("A count above the limit is clipped", t,
		WithContainer(t, reg, f, []Option{WithThreads()}, func(c *Container, done <-chan struct{}) {
			So(p.await(2), ShouldBeTrue)
			So(len(c.Live()), ShouldEqual, 2)
			So(logCount(c, "clipped to limit 2"), ShouldEqual, 1)
			time.Sleep(50 * time.Millisecond)
			So(p.Launches(), ShouldEqual, 2)
		}))
}

func TestUnknownService(t *testing.T) {
	Convey("Unknown services are rejected by Run", t, func() {
		c := NewContainer(NewRegistry(), Formation{{Name: "nope", Count: 1}},
			SetTestLogger(t, nil)...)
		e := c.Run(context.Background())
		So(errors.Is(e, ErrUnknownService), ShouldBeTrue)
		So(c.Phase(), ShouldEqual, PhaseIdle)
		So(c.Wait(context.Background()), ShouldEqual, ErrNotRunning)
	})
}

func TestFailedNotRestartable(t *testing.T) {
	p := newRecorder()
	var reports atomic.Int32
	reg := NewRegistry(NewService("foo", func(ctx context.Context, inst *Instance) error {
		p.launch(ctx, inst)
		return errors.New("Injected failure")
	}, WithRestart(false)))
	opts := []Option{
		WithThreads(),
		WithReporter(ReporterFunc(func(*Instance, error) { reports.Add(1) })),
	}

	Convey("A failed unrestartable instance is gone", t,
		WithContainer(t, reg, Formation{{Name: "foo", Count: 1}}, opts, func(c *Container, done <-chan struct{}) {
			So(waitDone(done), ShouldBeTrue)
			So(p.Launches(), ShouldEqual, 1)
			So(len(c.Live()), ShouldEqual, 0)
			So(c.Success(), ShouldBeFalse)
			So(reports.Load(), ShouldEqual, 1)
			st := c.Statuses()
			So(len(st), ShouldEqual, 1)
			So(st[0].Failed(), ShouldBeTrue)
		}))
}

func TestSuccessRelaunch(t *testing.T) {
	p := newRecorder()
	reg := NewRegistry(NewService("foo", func(ctx context.Context, inst *Instance) error {
		if p.launch(ctx, inst) < 3 {
			return nil
		}
		<-ctx.Done()
		return nil
	}))

	Convey("A successful exit is relaunched at once", t,
		WithContainer(t, reg, Formation{{Name: "foo", Count: 1}}, []Option{WithThreads()}, func(c *Container, done <-chan struct{}) {
			So(p.await(3), ShouldBeTrue)
			p.Lock()
			So(p.retries, ShouldResemble, []int{1, 2, 3})
			So(p.times[1].Sub(p.times[0]), ShouldBeLessThan, MinimumBackoff)
			So(p.times[2].Sub(p.times[1]), ShouldBeLessThan, MinimumBackoff)
			p.Unlock()
			So(c.Success(), ShouldBeTrue)
			So(len(c.Statuses()), ShouldEqual, 3)

			c.Interrupt()
			So(waitDone(done), ShouldBeTrue)
			So(c.Success(), ShouldBeTrue)
		}))
}

func TestFailureBackoff(t *testing.T) {
	p := newRecorder()
	reg := NewRegistry(NewService("foo", func(ctx context.Context, inst *Instance) error {
		if p.launch(ctx, inst) == 1 {
			return errors.New("Injected failure")
		}
		<-ctx.Done()
		return nil
	}))

	Convey("A failed exit is relaunched after a backoff", t,
		WithContainer(t, reg, Formation{{Name: "foo", Count: 1}}, []Option{WithThreads()}, func(c *Container, done <-chan struct{}) {
			So(p.await(2), ShouldBeTrue)
			p.Lock()
			So(p.retries, ShouldResemble, []int{1, 2})
			So(p.times[1].Sub(p.times[0]), ShouldBeGreaterThanOrEqualTo, MinimumBackoff)
			p.Unlock()
			So(c.Success(), ShouldBeFalse)
			info := c.Info()
			So(info.Failures, ShouldEqual, 1)
			So(info.Live, ShouldEqual, 1)
		}))
}

func TestBackoffGrowsWithRetries(t *testing.T) {
	p := newRecorder()
	reg := NewRegistry(NewService("foo", func(ctx context.Context, inst *Instance) error {
		if p.launch(ctx, inst) < 3 {
			return errors.New("Injected failure")
		}
		<-ctx.Done()
		return nil
	}))

	Convey("Each consecutive failure waits longer", t,
		WithContainer(t, reg, Formation{{Name: "foo", Count: 1}}, []Option{WithThreads()}, func(c *Container, done <-chan struct{}) {
			So(p.await(3), ShouldBeTrue)
			p.Lock()
			So(p.retries, ShouldResemble, []int{1, 2, 3})
			So(p.times[1].Sub(p.times[0]), ShouldBeGreaterThanOrEqualTo, MinimumBackoff)
			So(p.times[2].Sub(p.times[1]), ShouldBeGreaterThanOrEqualTo, 2*MinimumBackoff)
			p.Unlock()
			So(c.Info().Failures, ShouldEqual, 2)
			So(logCount(c, "restarting in"), ShouldEqual, 2)
		}))
}

func TestStopCancelsBackoff(t *testing.T) {
	p := newRecorder()
	reg := NewRegistry(NewService("foo", func(ctx context.Context, inst *Instance) error {
		p.launch(ctx, inst)
		return errors.New("Injected failure")
	}, WithCount(3)))

	Convey("Stopping cancels every pending relaunch", t,
		WithContainer(t, reg, Formation{{Name: "foo", Count: DefaultCount}}, []Option{WithThreads()}, func(c *Container, done <-chan struct{}) {
			So(p.await(3), ShouldBeTrue)
			for c.Info().Pending != 3 {
				time.Sleep(5 * time.Millisecond)
			}
			start := time.Now()
			c.Interrupt()
			So(waitDone(done), ShouldBeTrue)
			So(time.Since(start), ShouldBeLessThan, MinimumBackoff)
			So(c.Info().Pending, ShouldEqual, 0)
			time.Sleep(MinimumBackoff + 200*time.Millisecond)
			So(p.Launches(), ShouldEqual, 3)
		}))
}

func TestStopSignalsEveryInstance(t *testing.T) {
	Convey("Given three live instances", t, func() {
		var cs *countingStrategy
		p := newRecorder()
		reg := NewRegistry(NewService("foo", p.blocker, WithCount(3), WithStop(p.stop)))
		f := Formation{{Name: "foo", Count: DefaultCount}}
		opts := []Option{WithStrategy(countingThreads(&cs))}

		Convey("Interrupt sends three interrupts",
			WithContainer(t, reg, f, opts, func(c *Container, done <-chan struct{}) {
				So(p.await(3), ShouldBeTrue)
				c.Interrupt()
				So(waitDone(done), ShouldBeTrue)
				So(cs.Count(SignalInterrupt), ShouldEqual, 3)
				So(cs.Count(SignalTerminate), ShouldEqual, 0)
				So(p.Stops(), ShouldEqual, 3)
				for _, s := range c.Statuses() {
					So(s.Unknown(), ShouldBeFalse)
				}
			}))

		Convey("Terminate skips the stop hooks",
			WithContainer(t, reg, f, opts, func(c *Container, done <-chan struct{}) {
				So(p.await(3), ShouldBeTrue)
				c.Terminate()
				So(waitDone(done), ShouldBeTrue)
				So(cs.Count(SignalTerminate), ShouldEqual, 3)
				So(cs.Count(SignalInterrupt), ShouldEqual, 0)
				So(p.Stops(), ShouldEqual, 0)
				So(c.Success(), ShouldBeTrue)
			}))
	})
}

func TestShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := newRecorder()
	reg := NewRegistry(NewService("stubborn", func(ctx context.Context, inst *Instance) error {
		p.launch(ctx, inst)
		<-release
		return nil
	}, WithStop(p.stop)))
	opts := []Option{WithThreads(), WithShutdownTimeout(50 * time.Millisecond)}

	Convey("An instance that ignores interrupt is terminated", t,
		WithContainer(t, reg, Formation{{Name: "stubborn", Count: 1}}, opts, func(c *Container, done <-chan struct{}) {
			So(p.await(1), ShouldBeTrue)
			c.Interrupt()
			So(waitDone(done), ShouldBeTrue)
			So(p.Stops(), ShouldEqual, 0)
			So(logCount(c, "terminating 1 instances"), ShouldEqual, 1)
		}))
}

func TestPanicIsFailure(t *testing.T) {
	var got error
	reg := NewRegistry(NewService("foo", func(ctx context.Context, inst *Instance) error {
		panic("Injected panic")
	}, WithRestart(false)))
	opts := []Option{
		WithThreads(),
		WithReporter(ReporterFunc(func(_ *Instance, e error) { got = e })),
	}

	Convey("A panicking body fails and is reported", t,
		WithContainer(t, reg, Formation{{Name: "foo", Count: 1}}, opts, func(c *Container, done <-chan struct{}) {
			So(waitDone(done), ShouldBeTrue)
			So(c.Success(), ShouldBeFalse)
			var pe *PanicError
			So(errors.As(got, &pe), ShouldBeTrue)
			So(pe.Value, ShouldEqual, "Injected panic")
		}))
}

func TestRestartInstance(t *testing.T) {
	Convey("Restarting a live instance", t, func() {
		p := newRecorder()
		reg := NewRegistry(NewService("foo", p.blocker, WithStop(p.stop)))
		f := Formation{{Name: "foo", Count: 1}}

		Convey("Relaunches it when the container is restartable",
			WithContainer(t, reg, f, []Option{WithThreads()}, func(c *Container, done <-chan struct{}) {
				So(p.await(1), ShouldBeTrue)
				id := c.Live()[0].ID()
				So(c.RestartInstance(id), ShouldBeNil)
				So(p.await(1), ShouldBeTrue)
				live := c.Live()
				So(len(live), ShouldEqual, 1)
				So(live[0].ID(), ShouldEqual, id)
				So(live[0].Metadata().Retries, ShouldEqual, 2)
				So(p.Stops(), ShouldEqual, 1)
				p.Lock()
				So(p.causes[0], ShouldEqual, ErrRestart)
				p.Unlock()
				So(c.RestartInstance("nosuch"), ShouldEqual, ErrUnknownInstance)
			}))

		once := newRecorder()
		onceReg := NewRegistry(NewService("once", once.blocker, WithRestart(false)))
		Convey("Relaunches an instance of a one-shot service",
			WithContainer(t, onceReg, Formation{{Name: "once", Count: 1}}, []Option{WithThreads()}, func(c *Container, done <-chan struct{}) {
				So(once.await(1), ShouldBeTrue)
				id := c.Live()[0].ID()
				So(c.RestartInstance(id), ShouldBeNil)
				So(once.await(1), ShouldBeTrue)
				live := c.Live()
				So(len(live), ShouldEqual, 1)
				So(live[0].ID(), ShouldEqual, id)
				So(live[0].Metadata().Retries, ShouldEqual, 2)
				So(c.Phase(), ShouldEqual, PhaseRunning)

				Convey("And only once per request", func() {
					c.Interrupt()
					So(waitDone(done), ShouldBeTrue)
					So(once.Launches(), ShouldEqual, 2)
					So(c.Success(), ShouldBeTrue)
				})
			}))

		Convey("Is ignored when the container is not restartable",
			WithContainer(t, reg, f, []Option{WithThreads(), WithRestartable(false)}, func(c *Container, done <-chan struct{}) {
				So(p.await(1), ShouldBeTrue)
				So(c.RestartInstance(c.Live()[0].ID()), ShouldBeNil)
				time.Sleep(100 * time.Millisecond)
				So(p.Launches(), ShouldEqual, 1)
				So(len(c.Live()), ShouldEqual, 1)
				So(logCount(c, "ignoring restart"), ShouldEqual, 1)
			}))
	})
}

func TestReload(t *testing.T) {
	p := newRecorder()
	var payload map[string]string
	reg := NewRegistry(NewService("foo", p.blocker))
	opts := []Option{
		WithThreads(),
		WithOnRestart(func(m map[string]string) { payload = m }),
	}

	Convey("Restart runs the hooks and interrupts", t,
		WithContainer(t, reg, Formation{{Name: "foo", Count: 1}}, opts, func(c *Container, done <-chan struct{}) {
			So(p.await(1), ShouldBeTrue)
			c.Restart(map[string]string{"reason": "test"})
			So(waitDone(done), ShouldBeTrue)
			So(payload["reason"], ShouldEqual, "test")
			So(c.Reloaded(), ShouldBeTrue)
			p.Lock()
			So(p.causes[0], ShouldEqual, ErrInterrupt)
			p.Unlock()
		}))
}

func TestWaitContextCancel(t *testing.T) {
	Convey("Cancelling the Wait context interrupts", t, func() {
		p := newRecorder()
		finished := false
		reg := NewRegistry(NewService("foo", p.blocker))
		c := NewContainer(reg, Formation{{Name: "foo", Count: 2}},
			SetTestLogger(t, []Option{WithThreads(), WithFinish(func(*Container) { finished = true })})...)
		So(c.Run(context.Background()), ShouldBeNil)
		So(p.await(2), ShouldBeTrue)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		So(c.Wait(ctx), ShouldBeNil)
		So(finished, ShouldBeTrue)
		So(c.Success(), ShouldBeTrue)
		So(c.Run(context.Background()), ShouldEqual, ErrAlreadyRunning)
	})
}

func TestEmptyFormation(t *testing.T) {
	Convey("An empty formation drains at once", t, func() {
		c := NewContainer(NewRegistry(), nil, SetTestLogger(t, nil)...)
		So(c.Run(context.Background()), ShouldBeNil)
		So(c.Wait(context.Background()), ShouldBeNil)
		So(c.Phase(), ShouldEqual, PhaseDrained)
		So(c.Success(), ShouldBeTrue)
	})
}

func TestSnapshots(t *testing.T) {
	p := newRecorder()
	reg := NewRegistry(NewService("foo", p.blocker, WithCount(2)))

	Convey("Snapshots describe the live instances", t,
		WithContainer(t, reg, Formation{{Name: "foo", Count: DefaultCount}}, []Option{WithThreads(), WithName("snap")}, func(c *Container, done <-chan struct{}) {
			So(p.await(2), ShouldBeTrue)
			infos, serial := c.Instances()
			So(len(infos), ShouldEqual, 2)
			for _, i := range infos {
				So(i.Service, ShouldEqual, "foo")
				So(i.Live, ShouldBeTrue)
				So(i.Strategy, ShouldEqual, "thread")
				So(i.Status, ShouldEqual, "unknown")
				So(i.Retries, ShouldEqual, 1)
				one, e := c.GetInstance(i.ID)
				So(e, ShouldBeNil)
				So(one.ID, ShouldEqual, i.ID)
			}
			info := c.Info()
			So(info.Name, ShouldEqual, "snap")
			So(info.Phase, ShouldEqual, "running")
			So(info.Live, ShouldEqual, 2)

			So(c.WatchSerial(serial, 0), ShouldEqual, serial)
			c.Interrupt()
			So(c.WatchSerial(serial, time.Second), ShouldNotEqual, serial)
		}))
}
