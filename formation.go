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
	"fmt"
	"strconv"
	"strings"
)

// DefaultCount in a Slot means the definition's own Count is used.
const DefaultCount = -1

// AllServices is the formation name that stands for every registered
// service.
const AllServices = "all"

// Slot asks for Count instances of the named service.
type Slot struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Formation is an ordered list of slots.
type Formation []Slot

// ParseFormation parses the command line form of a formation, which is a
// comma separated list of name or name=count entries, for example
// "web=2,worker".
func ParseFormation(s string) (Formation, error) {
	var f Formation
	for _, word := range strings.Split(s, ",") {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		slot := Slot{Name: word, Count: DefaultCount}
		if i := strings.IndexByte(word, '='); i >= 0 {
			slot.Name = strings.TrimSpace(word[:i])
			n, e := strconv.Atoi(strings.TrimSpace(word[i+1:]))
			if e != nil || n < 0 {
				return nil, fmt.Errorf("%w: %q", ErrBadFormation, word)
			}
			slot.Count = n
		}
		if slot.Name == "" {
			return nil, fmt.Errorf("%w: %q", ErrBadFormation, word)
		}
		f = append(f, slot)
	}
	return f, nil
}

// Expand replaces the "all" slot with every registered service at its
// default count, skipping services named explicitly elsewhere.
func (f Formation) Expand(reg *Registry) Formation {
	named := make(map[string]bool)
	for _, slot := range f {
		named[slot.Name] = true
	}
	var rv Formation
	for _, slot := range f {
		if slot.Name != AllServices {
			rv = append(rv, slot)
			continue
		}
		for _, name := range reg.Names() {
			if !named[name] {
				named[name] = true
				rv = append(rv, Slot{Name: name, Count: DefaultCount})
			}
		}
	}
	return rv
}

func (f Formation) String() string {
	words := make([]string, 0, len(f))
	for _, slot := range f {
		if slot.Count == DefaultCount {
			words = append(words, slot.Name)
		} else {
			words = append(words, fmt.Sprintf("%s=%d", slot.Name, slot.Count))
		}
	}
	return strings.Join(words, ",")
}

// effectiveCount returns the number of instances to launch and whether the
// limit clipped the request.
func effectiveCount(slot Slot, def Definition) (int, bool) {
	n := slot.Count
	if n == DefaultCount {
		n = def.Count()
	}
	if limit := def.Limit(); limit > 0 && n > limit {
		return limit, true
	}
	return n, false
}
