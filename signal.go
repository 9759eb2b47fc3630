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
	"os"
	"syscall"
)

// Signal is a control request delivered to a running service instance.
type Signal int

const (
	// SignalInterrupt asks the service to stop gracefully.  Its stop
	// hook is called.
	SignalInterrupt Signal = iota
	// SignalTerminate stops the service without calling the stop hook
	// and without waiting for its body.
	SignalTerminate
	// SignalRestart asks a restartable service to exit so that it can
	// be launched again.
	SignalRestart
)

func (s Signal) String() string {
	switch s {
	case SignalInterrupt:
		return "interrupt"
	case SignalTerminate:
		return "terminate"
	case SignalRestart:
		return "restart"
	}
	return "unknown"
}

// OS returns the operating system signal used to carry s to a child.
func (s Signal) OS() os.Signal {
	switch s {
	case SignalTerminate:
		return syscall.SIGTERM
	case SignalRestart:
		return syscall.SIGHUP
	}
	return syscall.SIGINT
}

// Cause returns the control condition that a body sees when it is
// cancelled by s.
func (s Signal) Cause() error {
	switch s {
	case SignalTerminate:
		return ErrTerminate
	case SignalRestart:
		return ErrRestart
	}
	return ErrInterrupt
}

// SignalFromOS maps an operating system signal back to a Signal.
func SignalFromOS(sig os.Signal) (Signal, bool) {
	switch sig {
	case syscall.SIGINT:
		return SignalInterrupt, true
	case syscall.SIGTERM:
		return SignalTerminate, true
	case syscall.SIGHUP:
		return SignalRestart, true
	}
	return SignalInterrupt, false
}
