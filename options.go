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
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"vawter.tech/stopper"
)

// Option configures a Container.
type Option func(*Container)

// WithName names the container.  The name prefixes log messages and
// labels metrics.
func WithName(name string) Option {
	return func(c *Container) {
		c.name = name
	}
}

// WithLogger replaces the default standard error logger.  The
// container's in-memory log is still kept.
func WithLogger(l *log.Logger) Option {
	return func(c *Container) {
		c.SetLogger(l)
	}
}

// WithReporter sets the diagnostic sink for service errors.
func WithReporter(r Reporter) Option {
	return func(c *Container) {
		c.reporter = r
	}
}

// WithRestartable controls whether the container honors restart signals
// delivered to running instances.  The default is true.
func WithRestartable(b bool) Option {
	return func(c *Container) {
		c.restartable = b
	}
}

// WithStrategy sets the strategy factory.  The default is
// NewHybridStrategy.
func WithStrategy(f StrategyFactory) Option {
	return func(c *Container) {
		c.factory = f
	}
}

// WithHybrid runs services as processes or threads, as they ask.
func WithHybrid() Option {
	return WithStrategy(NewHybridStrategy)
}

// WithProcesses runs every service in a child process.  Without
// WithProcessCommand the child is this executable with the same
// arguments, so main must call ServeChild when IsChild reports true.
func WithProcesses() Option {
	return WithStrategy(NewProcessStrategy)
}

// WithThreads runs every service on its own OS thread.
func WithThreads() Option {
	return WithStrategy(NewThreadStrategy)
}

// WithTasks runs every service as a task on the reactor.
func WithTasks(reactor *stopper.Context) Option {
	return WithStrategy(NewTaskStrategy(reactor))
}

// WithProcessCommand sets how children of the process strategy are
// started.
func WithProcessCommand(cmd ChildCommand) Option {
	return func(c *Container) {
		c.command = cmd
	}
}

// WithShutdownTimeout escalates an interrupt to terminate for instances
// that have not exited after d.  Zero, the default, waits forever.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Container) {
		c.shutdownTimeout = d
	}
}

// WithPollInterval sets how often the shutdown sweep checks instances.
func WithPollInterval(d time.Duration) Option {
	return func(c *Container) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithMetrics registers container metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Container) {
		c.registerer = reg
	}
}

// WithFinish sets a hook run once Wait has drained every instance.
func WithFinish(fn func(*Container)) Option {
	return func(c *Container) {
		c.finish = fn
	}
}

// WithOnRestart adds a hook run when the container is asked to restart,
// before its instances are interrupted.
func WithOnRestart(fn func(payload map[string]string)) Option {
	return func(c *Container) {
		c.onRestart = append(c.onRestart, fn)
	}
}
