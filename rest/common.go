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

package rest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/runnable"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// PollEtagHeader carries the Etag a client already holds.  With
	// PollTimeHeader, the server holds the request until the resource
	// no longer matches, or until the given number of seconds pass.
	PollEtagHeader = "X-Runnable-Poll-Etag"
	PollTimeHeader = "X-Runnable-Poll-Time"

	// MaxPollTime bounds how long the server holds a long poll.
	MaxPollTime = 300 * time.Second
)

var ok struct{}

// LogRecord is one line of the container log, as served.
type LogRecord = runnable.LogRecord

// ContainerInfo is the document served at the root of the tree.
type ContainerInfo = runnable.ContainerInfo

// InstanceInfo describes one instance.
type InstanceInfo = runnable.InstanceInfo

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func formatEtag(n int64) string {
	return fmt.Sprintf("\"%d\"", n)
}

func parseEtag(s string) (int64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "W/")
	return strconv.ParseInt(strings.Trim(s, "\""), 10, 64)
}
