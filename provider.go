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
	"context"
	"sync"
)

// StrategyKind names the concurrency primitive a service prefers.  The
// empty kind leaves the choice to the container's strategy.
type StrategyKind string

const (
	StrategyDefault StrategyKind = ""
	StrategyProcess StrategyKind = "process"
	StrategyThread  StrategyKind = "thread"
	StrategyTask    StrategyKind = "task"
)

// Definition is what service implementations must provide.  The container
// calls Name, Count, Limit, Restartable and Strategy from its own loop.
// Run and Stop are called from whatever execution unit the strategy
// chose for the instance, and may run concurrently for different
// instances of the same definition.  Definitions that carry mutable state
// should implement Cloner.
type Definition interface {
	// Name returns the name of the service.  This is the name used
	// in a formation to refer to the service.
	Name() string

	// Count is the number of instances launched when the formation
	// does not say otherwise.
	Count() int

	// Limit is a hard cap on the number of concurrent instances.  Zero
	// means there is no limit.
	Limit() int

	// Restartable reports whether an instance that exits should be
	// launched again.
	Restartable() bool

	// Strategy returns the preferred execution primitive.
	Strategy() StrategyKind

	// Run executes the service body.  It should return when the context
	// is cancelled; context.Cause tells why.  A non-nil error marks the
	// incarnation failed, unless the instance status was already set.
	Run(ctx context.Context, inst *Instance) error

	// Stop is the graceful shutdown hook.  It is called once per
	// incarnation, after Run returns, including when Run returned
	// because the instance was interrupted or restarted.  It is not
	// called on terminate.
	Stop(inst *Instance)
}

// Cloner is implemented by definitions that must be copied for each
// instance.
type Cloner interface {
	Clone() Definition
}

func cloneDefinition(d Definition) Definition {
	if c, ok := d.(Cloner); ok {
		return c.Clone()
	}
	return d
}

// Registry is an ordered set of service definitions, looked up by name.
type Registry struct {
	defs  map[string]Definition
	names []string
	mx    sync.Mutex
}

// NewRegistry returns a Registry holding the given definitions.  It
// panics if two of them share a name.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	for _, d := range defs {
		if e := r.Register(d); e != nil {
			panic(e)
		}
	}
	return r
}

// Register adds a definition.  Names must be unique.
func (r *Registry) Register(d Definition) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.defs == nil {
		r.defs = make(map[string]Definition)
	}
	if _, ok := r.defs[d.Name()]; ok {
		return ErrDuplicateService
	}
	r.defs[d.Name()] = d
	r.names = append(r.names, d.Name())
	return nil
}

// Lookup finds the definition with the given name.
func (r *Registry) Lookup(name string) (Definition, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if d, ok := r.defs[name]; ok {
		return d, nil
	}
	return nil, ErrUnknownService
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]string{}, r.names...)
}
