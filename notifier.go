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
	"sync"
)

// EventKind tags the events that drive the container loop.
type EventKind int

const (
	// EventExit reports that an incarnation finished.
	EventExit EventKind = iota
	// EventRestart asks for an instance to be launched again now.
	EventRestart
	// EventReload asks the container to run its restart hooks and
	// interrupt.
	EventReload
	// EventStop asks the container to stop with the given signal.
	EventStop
)

func (k EventKind) String() string {
	switch k {
	case EventExit:
		return "exit"
	case EventRestart:
		return "restart"
	case EventReload:
		return "reload"
	case EventStop:
		return "stop"
	}
	return "unknown"
}

// Event is a notification delivered to the container loop.
type Event struct {
	Kind    EventKind
	ID      string
	Status  *Status
	Signal  Signal
	Payload map[string]string
}

// Notifier is an unbounded FIFO queue with a single consumer.  Producers
// never block beyond taking the lock.
type Notifier struct {
	events []Event
	closed bool
	mx     sync.Mutex
	cv     *sync.Cond
}

func NewNotifier() *Notifier {
	n := &Notifier{}
	n.cv = sync.NewCond(&n.mx)
	return n
}

// Notify enqueues an event.  Events sent after Close are dropped.
func (n *Notifier) Notify(ev Event) {
	n.mx.Lock()
	if !n.closed {
		n.events = append(n.events, ev)
		n.cv.Signal()
	}
	n.mx.Unlock()
}

// Next blocks until an event is available.  It returns false once the
// notifier is closed and drained.
func (n *Notifier) Next() (Event, bool) {
	n.mx.Lock()
	defer n.mx.Unlock()
	for len(n.events) == 0 && !n.closed {
		n.cv.Wait()
	}
	if len(n.events) == 0 {
		return Event{}, false
	}
	ev := n.events[0]
	n.events[0] = Event{}
	n.events = n.events[1:]
	return ev, true
}

// Listen calls fn for each event in order, until fn returns false or the
// notifier is closed and drained.
func (n *Notifier) Listen(fn func(Event) bool) {
	for {
		ev, ok := n.Next()
		if !ok || !fn(ev) {
			return
		}
	}
}

// Pending returns the number of queued events.
func (n *Notifier) Pending() int {
	n.mx.Lock()
	defer n.mx.Unlock()
	return len(n.events)
}

// Close wakes the consumer.  Events already queued are still delivered.
func (n *Notifier) Close() {
	n.mx.Lock()
	n.closed = true
	n.cv.Broadcast()
	n.mx.Unlock()
}
