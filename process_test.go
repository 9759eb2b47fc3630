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

//go:build unix

package runnable

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// The children run this test binary again; TestMain hands them to
// ServeChild with childRegistry.
var childCommand = ChildCommand{Args: []string{"-test.run=^$"}}

func TestProcessStartStop(t *testing.T) {
	reg := childRegistry()
	opts := []Option{WithProcesses(), WithProcessCommand(childCommand)}

	Convey("Test start/stop of a child process", t,
		WithContainer(t, reg, Formation{{Name: "sleeper", Count: 2}}, opts, func(c *Container, done <-chan struct{}) {
			live := c.Live()
			So(len(live), ShouldEqual, 2)
			for _, inst := range live {
				ref := inst.Reference()
				So(ref, ShouldNotBeNil)
				So(ref.Kind(), ShouldEqual, StrategyProcess)
				So(ref.(*child).Pid(), ShouldBeGreaterThan, 0)
			}
			time.Sleep(time.Millisecond * 300)

			c.Interrupt()
			So(waitDone(done), ShouldBeTrue)
			So(c.Success(), ShouldBeTrue)
			So(len(c.Statuses()), ShouldEqual, 2)
		}))
}

// eventually polls cond for a few seconds.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func TestProcessRestart(t *testing.T) {
	reg := childRegistry()
	f := Formation{{Name: "sleeper", Count: 1}}

	Convey("Restarting a child process", t, func() {
		Convey("Relaunches it after a clean exit",
			WithContainer(t, reg, f, []Option{WithProcesses(), WithProcessCommand(childCommand)}, func(c *Container, done <-chan struct{}) {
				inst := c.Live()[0]
				first := inst.Reference().(*child).Pid()
				time.Sleep(time.Millisecond * 300)

				So(c.RestartInstance(inst.ID()), ShouldBeNil)
				So(eventually(func() bool {
					ref, ok := inst.Reference().(*child)
					return ok && ref.Pid() != first
				}), ShouldBeTrue)
				So(inst.Metadata().Retries, ShouldEqual, 2)
				So(len(c.Live()), ShouldEqual, 1)
				st := c.Statuses()
				So(len(st), ShouldEqual, 2)
				So(st[0].Succeeded(), ShouldBeTrue)
				So(c.Success(), ShouldBeTrue)
			}))

		Convey("Is ignored by the child when the container is not restartable",
			WithContainer(t, reg, f, []Option{WithProcesses(), WithProcessCommand(childCommand), WithRestartable(false)}, func(c *Container, done <-chan struct{}) {
				inst := c.Live()[0]
				time.Sleep(time.Millisecond * 300)

				So(c.RestartInstance(inst.ID()), ShouldBeNil)
				So(eventually(func() bool {
					return logCount(c, "ignoring restart") == 1
				}), ShouldBeTrue)
				So(inst.Status().Unknown(), ShouldBeTrue)
				So(inst.Metadata().Retries, ShouldEqual, 1)
				So(len(c.Statuses()), ShouldEqual, 1)

				c.Interrupt()
				So(waitDone(done), ShouldBeTrue)
				So(c.Success(), ShouldBeTrue)
			}))
	})
}

func TestProcessFail(t *testing.T) {
	Convey("Test failing child processes", t, func() {
		for _, name := range []string{"crash", "panic"} {
			c := NewContainer(childRegistry(), Formation{{Name: name, Count: 1}},
				SetTestLogger(t, []Option{WithProcesses(), WithProcessCommand(childCommand)})...)
			So(c.Run(context.Background()), ShouldBeNil)
			So(c.Wait(context.Background()), ShouldBeNil)
			So(c.Success(), ShouldBeFalse)
			So(logCount(c, "exit status 1"), ShouldEqual, 1)
		}
	})
}

func TestProcessQuick(t *testing.T) {
	Convey("A child that returns at once succeeds", t, func() {
		c := NewContainer(childRegistry(), Formation{{Name: "quick", Count: 3}},
			SetTestLogger(t, []Option{WithProcesses(), WithProcessCommand(childCommand)})...)
		So(c.Run(context.Background()), ShouldBeNil)
		So(c.Wait(context.Background()), ShouldBeNil)
		So(c.Success(), ShouldBeTrue)
		So(len(c.Statuses()), ShouldEqual, 3)
	})
}

func TestProcessTerminate(t *testing.T) {
	reg := childRegistry()
	opts := []Option{WithHybrid(), WithProcessCommand(childCommand)}

	Convey("Terminate stops children in the hybrid strategy", t,
		WithContainer(t, reg, Formation{{Name: "sleeper", Count: 1}}, opts, func(c *Container, done <-chan struct{}) {
			So(c.Live()[0].Reference().Kind(), ShouldEqual, StrategyProcess)
			time.Sleep(time.Millisecond * 300)
			c.Terminate()
			So(waitDone(done), ShouldBeTrue)
			for _, s := range c.Statuses() {
				So(s.Unknown(), ShouldBeFalse)
			}
		}))
}

func TestExecService(t *testing.T) {
	Convey("Exec services run external commands", t, func() {
		Convey("Output is logged and a non-zero exit fails", func() {
			reg := NewRegistry(NewExecService(ExecManifest{
				Name:    "echo",
				Command: []string{"/bin/sh", "-c", "echo hello; exit 3"},
			}))
			c := NewContainer(reg, Formation{{Name: "echo", Count: 1}},
				SetTestLogger(t, []Option{WithThreads()})...)
			So(c.Run(context.Background()), ShouldBeNil)
			So(c.Wait(context.Background()), ShouldBeNil)
			So(c.Success(), ShouldBeFalse)
			So(logCount(c, "[echo] stdout> hello"), ShouldEqual, 1)
		})

		Convey("Interrupt stops the command gracefully", func() {
			reg := NewRegistry(NewExecService(ExecManifest{
				Name:     "sleep",
				Command:  []string{"/bin/sh", "-c", "exec sleep 60"},
				StopTime: time.Second,
				Restart:  true,
			}))
			c := NewContainer(reg, Formation{{Name: "sleep", Count: 1}},
				SetTestLogger(t, []Option{WithThreads()})...)
			So(c.Run(context.Background()), ShouldBeNil)
			time.Sleep(time.Millisecond * 300)
			c.Interrupt()
			start := time.Now()
			So(c.Wait(context.Background()), ShouldBeNil)
			So(time.Since(start), ShouldBeLessThan, time.Second)
			So(c.Success(), ShouldBeTrue)
		})

		Convey("A stop command receives the pid", func() {
			reg := NewRegistry(NewExecService(ExecManifest{
				Name:     "stopcmd",
				Command:  []string{"/bin/sh", "-c", "exec sleep 60"},
				StopCmd:  []string{"/bin/sh", "-c", "echo stopping $PID; kill $PID"},
				StopTime: time.Second,
			}))
			c := NewContainer(reg, Formation{{Name: "stopcmd", Count: 1}},
				SetTestLogger(t, []Option{WithThreads()})...)
			So(c.Run(context.Background()), ShouldBeNil)
			time.Sleep(time.Millisecond * 300)
			c.Interrupt()
			So(c.Wait(context.Background()), ShouldBeNil)
			So(logCount(c, "stop stdout> stopping"), ShouldEqual, 1)
		})
	})
}

func TestNestedChild(t *testing.T) {
	Convey("A service child does not start children", t, func() {
		t.Setenv(EnvService, "sleeper")
		So(IsChild(), ShouldBeTrue)
		s := NewProcessStrategy(StrategyConfig{Notifier: NewNotifier(), Command: childCommand})
		inst := NewInstance(NewService("sleeper", nil))
		inst.incarnate(time.Now())
		So(s.InvokeService(context.Background(), inst), ShouldEqual, ErrNestedChild)
		So(inst.Reference(), ShouldBeNil)
	})
}
