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
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Metadata is the bookkeeping the container keeps for an instance.
type Metadata struct {
	Retries   int       `json:"retries"`
	StartedAt time.Time `json:"startedAt"`
}

// Reference is an opaque handle to the execution unit running an
// incarnation: a child process, a locked OS thread, or a task.
type Reference interface {
	Kind() StrategyKind
	String() string
}

// Instance is one launched copy of a service definition.  The ID is stable
// across incarnations.  Each incarnation gets a fresh Status; the previous
// ones remain in the container's status log.
//
// The lifecycle of an instance looks like this.  The arrows out of Exited
// are container decisions; nothing else moves an instance between states.
//
//	          +-----------+
//	          |           |
//	+--------->  Launched +----------+
//	|         |           |          |
//	|         +-----+-----+          |
//	|               |                |
//	|          +----V-----+    +-----V----+
//	|  success |          |    |          |
//	+----------+  Exited  +---->  Backoff |
//	|          |          |fail|          |
//	|          +----+-----+    +-----+----+
//	|               |                |
//	|          +----V-----+          |
//	|          |          |          |
//	|          |   Gone   |          |
//	|          |          |          |
//	|          +----------+          |
//	|                                |
//	+--------------------------------+
type Instance struct {
	id     string
	def    Definition
	status *Status
	meta   Metadata
	ref    Reference
	logger *log.Logger
	mx     sync.Mutex
}

// NewInstance creates an instance of the definition.  Definitions that
// implement Cloner are copied.
func NewInstance(def Definition) *Instance {
	return newInstance(def, uuid.NewString())
}

func newInstance(def Definition, id string) *Instance {
	inst := &Instance{
		id:     id,
		def:    cloneDefinition(def),
		status: NewStatus(),
	}
	inst.logger = log.New(io.Discard, "", 0)
	return inst
}

func (inst *Instance) ID() string {
	return inst.id
}

func (inst *Instance) Name() string {
	return inst.def.Name()
}

func (inst *Instance) Definition() Definition {
	return inst.def
}

func (inst *Instance) Restartable() bool {
	return inst.def.Restartable()
}

// Strategy returns the strategy kind the definition asked for.
func (inst *Instance) Strategy() StrategyKind {
	return inst.def.Strategy()
}

// Status returns the status of the current incarnation.
func (inst *Instance) Status() *Status {
	inst.mx.Lock()
	defer inst.mx.Unlock()
	return inst.status
}

// Metadata returns a copy of the instance bookkeeping.
func (inst *Instance) Metadata() Metadata {
	inst.mx.Lock()
	defer inst.mx.Unlock()
	return inst.meta
}

// Reference returns the live handle, or nil.
func (inst *Instance) Reference() Reference {
	inst.mx.Lock()
	defer inst.mx.Unlock()
	return inst.ref
}

// Logger returns a logger that writes to the container's log, with the
// instance name as prefix.
func (inst *Instance) Logger() *log.Logger {
	inst.mx.Lock()
	defer inst.mx.Unlock()
	return inst.logger
}

// Stop calls the definition's graceful stop hook.
func (inst *Instance) Stop() {
	inst.def.Stop(inst)
}

func (inst *Instance) String() string {
	return fmt.Sprintf("%s[%s]", inst.Name(), shortID(inst.id))
}

// incarnate prepares a new incarnation and returns its status.  The first
// launch has one retry.
func (inst *Instance) incarnate(now time.Time) *Status {
	inst.mx.Lock()
	defer inst.mx.Unlock()
	inst.meta.Retries++
	inst.meta.StartedAt = now
	inst.status = NewStatus()
	inst.ref = nil
	return inst.status
}

func (inst *Instance) setReference(ref Reference) {
	inst.mx.Lock()
	inst.ref = ref
	inst.mx.Unlock()
}

// clearReference drops ref if it is still the live reference.
func (inst *Instance) clearReference(ref Reference) {
	inst.mx.Lock()
	if inst.ref == ref {
		inst.ref = nil
	}
	inst.mx.Unlock()
}

func (inst *Instance) setLogger(l *log.Logger) {
	inst.mx.Lock()
	inst.logger = log.New(l.Writer(), "["+inst.def.Name()+"] ", 0)
	inst.mx.Unlock()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
