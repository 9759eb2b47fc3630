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
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// TestMain doubles as the child side of the process strategy tests.
func TestMain(m *testing.M) {
	if IsChild() {
		os.Exit(ServeChild(context.Background(), childRegistry(), nil))
	}
	os.Exit(m.Run())
}

func childRegistry() *Registry {
	return NewRegistry(
		NewService("sleeper", func(ctx context.Context, inst *Instance) error {
			<-ctx.Done()
			return context.Cause(ctx)
		}, WithRestart(false)),
		NewService("quick", func(ctx context.Context, inst *Instance) error {
			return nil
		}, WithRestart(false)),
		NewService("crash", func(ctx context.Context, inst *Instance) error {
			return errors.New("Injected failure")
		}, WithRestart(false)),
		NewService("panic", func(ctx context.Context, inst *Instance) error {
			panic("Injected panic")
		}, WithRestart(false)),
	)
}

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	s := string(p)
	s = strings.Trim(s, "\n")
	tl.t.Log(s)
	return len(p), nil
}

func SetTestLogger(t *testing.T, opts []Option) []Option {
	return append(opts, WithLogger(log.New(&testLog{t: t}, "", 0)))
}

// recorder records what happens to the instances of a test service.
type recorder struct {
	launches int
	stops    int
	retries  []int
	times    []time.Time
	causes   []error
	launched chan struct{}
	sync.Mutex
}

func newRecorder() *recorder {
	return &recorder{launched: make(chan struct{}, 100)}
}

func (p *recorder) launch(ctx context.Context, inst *Instance) int {
	p.Lock()
	p.launches++
	n := p.launches
	p.retries = append(p.retries, inst.Metadata().Retries)
	p.times = append(p.times, time.Now())
	p.Unlock()
	p.launched <- struct{}{}
	return n
}

func (p *recorder) cause(e error) {
	p.Lock()
	p.causes = append(p.causes, e)
	p.Unlock()
}

func (p *recorder) stop(*Instance) {
	p.Lock()
	p.stops++
	p.Unlock()
}

func (p *recorder) Launches() int {
	p.Lock()
	defer p.Unlock()
	return p.launches
}

func (p *recorder) Stops() int {
	p.Lock()
	defer p.Unlock()
	return p.stops
}

// await waits for n more launches.
func (p *recorder) await(n int) bool {
	for i := 0; i < n; i++ {
		select {
		case <-p.launched:
		case <-time.After(5 * time.Second):
			return false
		}
	}
	return true
}

// blocker is a service body that runs until it is cancelled.
func (p *recorder) blocker(ctx context.Context, inst *Instance) error {
	p.launch(ctx, inst)
	<-ctx.Done()
	p.cause(context.Cause(ctx))
	return ctx.Err()
}

// countingStrategy wraps another strategy and counts stop requests.
type countingStrategy struct {
	Strategy
	sigs []Signal
	mx   sync.Mutex
}

func (s *countingStrategy) StopService(inst *Instance, sig Signal) error {
	s.mx.Lock()
	s.sigs = append(s.sigs, sig)
	s.mx.Unlock()
	return s.Strategy.StopService(inst, sig)
}

func (s *countingStrategy) Count(sig Signal) int {
	s.mx.Lock()
	defer s.mx.Unlock()
	n := 0
	for _, x := range s.sigs {
		if x == sig {
			n++
		}
	}
	return n
}

func countingThreads(cs **countingStrategy) StrategyFactory {
	return func(cfg StrategyConfig) Strategy {
		*cs = &countingStrategy{Strategy: NewThreadStrategy(cfg)}
		return *cs
	}
}

func WithContainer(t *testing.T, reg *Registry, f Formation, opts []Option, fn func(c *Container, done <-chan struct{})) func() {
	return func() {
		c := NewContainer(reg, f, SetTestLogger(t, opts)...)
		So(c, ShouldNotBeNil)
		So(c.Run(context.Background()), ShouldBeNil)
		done := make(chan struct{})
		go func() {
			defer close(done)
			c.Wait(context.Background())
		}()
		Reset(func() {
			c.Terminate()
			waitDone(done)
		})
		fn(c, done)
	}
}

// waitDone reports whether the container finished within a few seconds.
func waitDone(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-time.After(5 * time.Second):
		return false
	}
}

func logCount(c *Container, substr string) int {
	recs, _ := c.GetLog(0)
	n := 0
	for _, r := range recs {
		if strings.Contains(r.Text, substr) {
			n++
		}
	}
	return n
}
