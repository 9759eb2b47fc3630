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
	"errors"
	"fmt"
)

var (
	ErrUnknownService   = errors.New("Unknown service")
	ErrDuplicateService = errors.New("Service already registered")
	ErrBadFormation     = errors.New("Bad formation")
	ErrAlreadyRunning   = errors.New("Container already running")
	ErrNotRunning       = errors.New("Container is not running")
	ErrStopping         = errors.New("Container is stopping")
	ErrUnknownInstance  = errors.New("Unknown instance")
	ErrNoReference      = errors.New("Instance has no live reference")
	ErrNotChild         = errors.New("Not running as a service child")
	ErrNestedChild      = errors.New("Service child cannot start children")
)

// The control conditions are used as cancellation causes for a running
// service body.  They are never reported as failures.
var (
	ErrRestart   = errors.New("Service restart requested")
	ErrInterrupt = errors.New("Service interrupted")
	ErrTerminate = errors.New("Service terminated")
)

// IsControl reports whether the error is one of the control conditions.
func IsControl(e error) bool {
	return errors.Is(e, ErrRestart) || errors.Is(e, ErrInterrupt) ||
		errors.Is(e, ErrTerminate)
}

// ServiceError wraps an error raised by a service instance.
type ServiceError struct {
	Service string
	ID      string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s[%s]: %v", e.Service, e.ID, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// PanicError carries a value recovered from a panicking service body.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
