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

// Package util is used for internal implementation bits in the CLI/UI.
package util

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/runnable/rest"
)

// Status summarizes an instance in one word.
func Status(i *rest.InstanceInfo) string {
	switch {
	case i.Pending:
		return "backoff"
	case i.Live && i.Status == "unknown":
		return "running"
	case i.Live:
		return "stopping"
	}
	return i.Status
}

// ShortID returns the first eight characters of an instance id.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func FormatDuration(d time.Duration) string {

	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

// Uptime is how long the current incarnation has run.
func Uptime(i *rest.InstanceInfo) time.Duration {
	if i.StartedAt.IsZero() || !i.Live {
		return 0
	}
	d := time.Since(i.StartedAt)
	return d - d%time.Second
}

type sorted []*rest.InstanceInfo

func (s sorted) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sorted) Len() int {
	return len(s)
}

func rank(i *rest.InstanceInfo) int {
	switch {
	case i.Status == "failed":
		return 0
	case i.Pending:
		return 1
	case i.Live:
		return 2
	}
	return 3
}

func (s sorted) Less(i, j int) bool {
	a := s[i]
	b := s[j]

	// failed items at front, then the ones waiting to come back
	if ra, rb := rank(a), rank(b); ra != rb {
		return ra < rb
	}
	if a.Service != b.Service {
		return a.Service < b.Service
	}
	return a.ID < b.ID
}

func SortInstances(items []*rest.InstanceInfo) {
	sort.Sort(sorted(items))
}

// FindInstance resolves a full id or a unique prefix of one.
func FindInstance(items []*rest.InstanceInfo, prefix string) (*rest.InstanceInfo, error) {
	var found *rest.InstanceInfo
	for _, i := range items {
		if i.ID == prefix {
			return i, nil
		}
		if prefix != "" && strings.HasPrefix(i.ID, prefix) {
			if found != nil {
				return nil, fmt.Errorf("ambiguous instance id %q", prefix)
			}
			found = i
		}
	}
	if found == nil {
		return nil, fmt.Errorf("no instance %q", prefix)
	}
	return found, nil
}
