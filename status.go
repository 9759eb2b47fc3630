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
	"sync/atomic"
)

// State is the outcome of one incarnation of a service instance.
type State int32

const (
	StateUnknown State = iota
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Status records the outcome of a single incarnation.  It starts out
// unknown and transitions exactly once, to either success or failure.
// Later transitions are ignored.
type Status struct {
	state atomic.Int32
}

// NewStatus returns a Status in the unknown state.
func NewStatus() *Status {
	return &Status{}
}

func (s *Status) State() State {
	return State(s.state.Load())
}

func (s *Status) Unknown() bool {
	return s.State() == StateUnknown
}

func (s *Status) Succeeded() bool {
	return s.State() == StateSuccess
}

func (s *Status) Failed() bool {
	return s.State() == StateFailed
}

// MarkSuccess records success, returning false if the status was
// already resolved.
func (s *Status) MarkSuccess() bool {
	return s.state.CompareAndSwap(int32(StateUnknown), int32(StateSuccess))
}

// MarkFailed records failure, returning false if the status was
// already resolved.
func (s *Status) MarkFailed() bool {
	return s.state.CompareAndSwap(int32(StateUnknown), int32(StateFailed))
}

func (s *Status) String() string {
	return s.State().String()
}
