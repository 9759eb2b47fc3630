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
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
)

// The process strategy passes the instance to the child in these
// environment variables.
const (
	EnvService     = "RUNNABLE_SERVICE"
	EnvInstance    = "RUNNABLE_INSTANCE"
	EnvRestartable = "RUNNABLE_RESTARTABLE"
)

// IsChild reports whether this process was started by the process
// strategy to run a single service instance.
func IsChild() bool {
	return os.Getenv(EnvService) != ""
}

// ServeChild runs the service instance described by the environment and
// returns the exit status the process should exit with: zero on success
// and one if the body failed.  SIGHUP, SIGINT and SIGTERM are delivered
// to the body as restart, interrupt and terminate.
func ServeChild(ctx context.Context, reg *Registry, logger *log.Logger) int {
	if logger == nil {
		logger = log.New(os.Stderr, "", 0)
	}
	name := os.Getenv(EnvService)
	if name == "" {
		logger.Printf("%v", ErrNotChild)
		return 2
	}
	def, e := reg.Lookup(name)
	if e != nil {
		logger.Printf("%s: %v", name, e)
		return 2
	}
	restartable, _ := strconv.ParseBool(os.Getenv(EnvRestartable))

	inst := newInstance(def, os.Getenv(EnvInstance))
	inst.logger = logger
	status := inst.incarnate(now())

	trap := make(chan os.Signal, 1)
	signal.Notify(trap, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(trap)

	sigs := make(chan Signal, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case s := <-trap:
				if sig, ok := SignalFromOS(s); ok {
					select {
					case sigs <- sig:
					case <-done:
						return
					}
				}
			case <-done:
				return
			}
		}
	}()

	r := &runner{
		cfg: StrategyConfig{
			Logger:      logger,
			Restartable: restartable,
		},
		failed: markFailed,
	}
	r.perform(ctx, inst, status, sigs, goroutine)
	if status.Failed() {
		return 1
	}
	return 0
}
