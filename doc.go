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

// Package runnable supervises a set of named, replicated, long running
// services.  It is similar in spirit to the process supervisors found in
// application servers: a Container is given a Formation, which says how
// many instances of each service to run, and keeps that many running.
//
// Each service is a Definition.  An instance that exits successfully is
// launched again at once, if its definition is restartable.  One that
// fails is launched again after a backoff delay that grows with the number
// of attempts and with how long it ran.  Stopping the container interrupts
// (or terminates) every instance and waits for each of them to exit.
//
// Instances are executed by a Strategy.  The process strategy runs each
// instance in a child process, which is the current executable started
// again; programs using it must call ServeChild early in main when
// IsChild reports true.  The thread strategy runs each instance on its
// own OS thread, and the task strategy runs instances as tasks of a
// stopper reactor owned by the caller.  The hybrid strategy, which is the
// default, lets each service choose.
//
// The container may be embedded in an existing server; the rest package
// provides an HTTP handler that exposes it.
package runnable
