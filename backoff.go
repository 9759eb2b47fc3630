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
	"time"
)

// MinimumBackoff is the smallest per-retry delay before a failed instance
// is launched again.
const MinimumBackoff = 500 * time.Millisecond

var now = time.Now

// BackoffDelay returns how long to wait before relaunching an instance
// that failed at the given time.  The delay grows with the number of
// retries and with how long the incarnation ran.
func BackoffDelay(meta Metadata, at time.Time) time.Duration {
	d := at.Sub(meta.StartedAt)
	if d < MinimumBackoff {
		d = MinimumBackoff
	}
	return d * time.Duration(meta.Retries)
}

// Backoff keeps one pending relaunch timer per instance.  A timer that
// fires only sends an EventRestart; it never relaunches anything itself.
type Backoff struct {
	notifier *Notifier
	timers   map[string]*time.Timer
	mx       sync.Mutex
}

func NewBackoff(n *Notifier) *Backoff {
	return &Backoff{
		notifier: n,
		timers:   make(map[string]*time.Timer),
	}
}

// Schedule arranges for inst to be restarted after its backoff delay,
// replacing any timer already pending for it.
func (b *Backoff) Schedule(inst *Instance) time.Duration {
	d := BackoffDelay(inst.Metadata(), now())
	id := inst.ID()
	b.mx.Lock()
	if t := b.timers[id]; t != nil {
		t.Stop()
	}
	b.timers[id] = time.AfterFunc(d, func() {
		b.notifier.Notify(Event{Kind: EventRestart, ID: id})
	})
	b.mx.Unlock()
	return d
}

// Pending reports whether a relaunch is pending for the id.
func (b *Backoff) Pending(id string) bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	_, ok := b.timers[id]
	return ok
}

// Len returns the number of pending relaunches.
func (b *Backoff) Len() int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return len(b.timers)
}

// Cancel drops the pending relaunch for id, returning false if there was
// none.
func (b *Backoff) Cancel(id string) bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	t, ok := b.timers[id]
	if ok {
		t.Stop()
		delete(b.timers, id)
	}
	return ok
}

// CancelAll drops every pending relaunch and returns how many there were.
func (b *Backoff) CancelAll() int {
	b.mx.Lock()
	defer b.mx.Unlock()
	n := len(b.timers)
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
	return n
}
