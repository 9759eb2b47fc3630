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
	"strings"
	"sync"
	"time"
)

// MaxLogRecords is the default capacity of a Log.
const MaxLogRecords = 1000

// LogRecord is one line of the in-memory log.
type LogRecord struct {
	Id   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Log is a ring of the most recent log lines.  It implements io.Writer,
// so a log.Logger can write to it, and lets readers wait for new lines.
type Log struct {
	records []LogRecord
	next    int // total lines written, the ring index is next % cap
	id      int64
	cvs     map[*sync.Cond]bool
	mx      sync.Mutex
}

// NewLog returns a Log holding up to MaxLogRecords lines.
func NewLog() *Log {
	return NewLogSize(MaxLogRecords)
}

// NewLogSize returns a Log holding up to n lines.
func NewLogSize(n int) *Log {
	if n <= 0 {
		n = MaxLogRecords
	}
	return &Log{
		records: make([]LogRecord, n),
		// IDs start from the clock, so that a client holding an
		// ID from an earlier Log will not mistake it for current.
		id:  time.Now().UnixNano(),
		cvs: make(map[*sync.Cond]bool),
	}
}

// Write implements the Writer interface consumed by Logger.  Each line
// becomes a record.
func (l *Log) Write(b []byte) (int, error) {
	str := strings.TrimRight(string(b), "\n")
	now := time.Now()
	l.mx.Lock()
	for _, line := range strings.Split(str, "\n") {
		l.id++
		l.records[l.next%len(l.records)] = LogRecord{
			Id:   l.id,
			Time: now,
			Text: line,
		}
		l.next++
	}
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.mx.Unlock()
	return len(b), nil
}

// GetRecords returns the stored records, oldest first, and an ID suitable
// for use as an Etag.  If last is the current ID, it returns nil records
// and the same ID.
func (l *Log) GetRecords(last int64) ([]LogRecord, int64) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.id == last {
		return nil, last
	}
	cnt := l.next
	if cnt > len(l.records) {
		cnt = len(l.records)
	}
	recs := make([]LogRecord, 0, cnt)
	for i := l.next - cnt; i < l.next; i++ {
		recs = append(recs, l.records[i%len(l.records)])
	}
	return recs, l.id
}

// Watch waits up to expire for the ID to move past last, and returns the
// current ID.  A zero expire just polls.
func (l *Log) Watch(last int64, expire time.Duration) int64 {
	expired := expire <= 0
	cv := sync.NewCond(&l.mx)
	var timer *time.Timer
	if !expired {
		timer = time.AfterFunc(expire, func() {
			l.mx.Lock()
			expired = true
			cv.Broadcast()
			l.mx.Unlock()
		})
	}

	l.mx.Lock()
	l.cvs[cv] = true
	for l.id == last && !expired {
		cv.Wait()
	}
	delete(l.cvs, cv)
	rv := l.id
	l.mx.Unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}
