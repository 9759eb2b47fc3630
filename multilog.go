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
	"strings"
	"sync"
)

// MultiLogger fans a single log.Logger out to several.  It is an
// io.Writer that splits what it is given into lines and prints each line
// to every contained logger, with that logger's own prefix and flags.
// The container log, the daemon's standard error and each instance's
// prefixed logger all meet here.
type MultiLogger struct {
	log     *log.Logger
	loggers []*log.Logger
	lock    sync.Mutex
}

// Write prints each line of b to every destination.  log.Logger calls
// Write once per message, so messages are never interleaved.
func (l *MultiLogger) Write(b []byte) (int, error) {
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	l.lock.Lock()
	dests := l.loggers
	for _, line := range lines {
		for _, logger := range dests {
			logger.Println(line)
		}
	}
	l.lock.Unlock()
	return len(b), nil
}

// AddLogger adds a destination.  Adding the same logger twice has no
// effect.
func (l *MultiLogger) AddLogger(logger *log.Logger) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, x := range l.loggers {
		if x == logger {
			return
		}
	}
	l.loggers = append(l.loggers, logger)
}

// DelLogger removes a logger from the destinations.
func (l *MultiLogger) DelLogger(logger *log.Logger) {
	l.lock.Lock()
	defer l.lock.Unlock()
	kept := make([]*log.Logger, 0, len(l.loggers))
	for _, x := range l.loggers {
		if x != logger {
			kept = append(kept, x)
		}
	}
	l.loggers = kept
}

// Logger returns a logger that writes to every destination.
func (l *MultiLogger) Logger() *log.Logger {
	return l.log
}

// Len returns the number of destinations.
func (l *MultiLogger) Len() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.loggers)
}

// NewMultiLogger returns a MultiLogger with no destinations.
func NewMultiLogger() *MultiLogger {
	m := &MultiLogger{}
	m.log = log.New(m, "", 0)
	return m
}
