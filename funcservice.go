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
)

// ServiceOption configures a FuncService.
type ServiceOption func(*FuncService)

// WithCount sets the default number of instances.
func WithCount(n int) ServiceOption {
	return func(s *FuncService) {
		s.count = n
	}
}

// WithLimit caps the number of concurrent instances.
func WithLimit(n int) ServiceOption {
	return func(s *FuncService) {
		s.limit = n
	}
}

// WithRestart sets whether exited instances are launched again.
func WithRestart(b bool) ServiceOption {
	return func(s *FuncService) {
		s.restart = b
	}
}

// WithKind sets the preferred strategy.
func WithKind(k StrategyKind) ServiceOption {
	return func(s *FuncService) {
		s.kind = k
	}
}

// WithStop installs a graceful stop hook.
func WithStop(fn func(*Instance)) ServiceOption {
	return func(s *FuncService) {
		s.stop = fn
	}
}

// FuncService is a Definition built from a plain function.
type FuncService struct {
	name    string
	count   int
	limit   int
	restart bool
	kind    StrategyKind
	run     func(context.Context, *Instance) error
	stop    func(*Instance)
}

// NewService returns a restartable service with a count of one.
func NewService(name string, run func(context.Context, *Instance) error, opts ...ServiceOption) *FuncService {
	s := &FuncService{
		name:    name,
		count:   1,
		restart: true,
		run:     run,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *FuncService) Name() string           { return s.name }
func (s *FuncService) Count() int             { return s.count }
func (s *FuncService) Limit() int             { return s.limit }
func (s *FuncService) Restartable() bool      { return s.restart }
func (s *FuncService) Strategy() StrategyKind { return s.kind }

func (s *FuncService) Run(ctx context.Context, inst *Instance) error {
	if s.run == nil {
		<-ctx.Done()
		return nil
	}
	return s.run(ctx, inst)
}

func (s *FuncService) Stop(inst *Instance) {
	if s.stop != nil {
		s.stop(inst)
	}
}
