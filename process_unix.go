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

//go:build unix

package runnable

import (
	"errors"
	"syscall"
)

// CanFork reports whether child processes can be started and signalled.
const CanFork = true

func sysProcAttr() *syscall.SysProcAttr {
	// Keep children out of the terminal's process group, so that only
	// the supervisor sees keyboard signals.
	return &syscall.SysProcAttr{Setpgid: true}
}

func processGone(e error) bool {
	return errors.Is(e, syscall.ESRCH)
}
