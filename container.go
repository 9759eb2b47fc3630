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
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// DefaultPollInterval is how often the shutdown sweep checks whether the
// stopped instances have resolved.
const DefaultPollInterval = 100 * time.Millisecond

// Phase is the state of the container as a whole.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseStopping
	PhaseDrained
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseStopping:
		return "stopping"
	case PhaseDrained:
		return "drained"
	}
	return "unknown"
}

// Container launches the instances of a formation and keeps them running.
// Exits, restart requests and stop requests all arrive as events on the
// container's Notifier.  Wait is the only consumer of those events, and
// the only code that changes the set of instances once Run has returned.
// Other methods only read state, or send events.
type Container struct {
	name            string
	reg             *Registry
	formation       Formation
	factory         StrategyFactory
	strategy        Strategy
	notifier        *Notifier
	backoff         *Backoff
	reporter        Reporter
	registerer      prometheus.Registerer
	metrics         *Metrics
	command         ChildCommand
	restartable     bool
	shutdownTimeout time.Duration
	pollInterval    time.Duration
	finish          func(*Container)
	onRestart       []func(map[string]string)

	logger *log.Logger
	log    *Log
	mlog   *MultiLogger

	ctx        context.Context
	phase      Phase
	waiting    bool
	services   []*Instance
	known      map[string]*Instance
	restarts   map[string]bool
	statuses   []*Status
	stopping   bool
	signal     Signal
	escalate   bool
	reloaded   bool
	serial     int64
	createTime time.Time
	updateTime time.Time
	mx         sync.Mutex
	cvs        map[*sync.Cond]bool
}

// ContainerInfo is a consistent snapshot of the container.
type ContainerInfo struct {
	Name       string    `json:"name"`
	Phase      string    `json:"phase"`
	Formation  string    `json:"formation"`
	Stopping   bool      `json:"stopping"`
	Success    bool      `json:"success"`
	Live       int       `json:"live"`
	Pending    int       `json:"pending"`
	Launches   int       `json:"launches"`
	Failures   int       `json:"failures"`
	Serial     int64     `json:"serial,string"`
	CreateTime time.Time `json:"created"`
	UpdateTime time.Time `json:"updated"`
}

// InstanceInfo is a snapshot of one instance.
type InstanceInfo struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Live      bool      `json:"live"`
	Pending   bool      `json:"pending"`
	Retries   int       `json:"retries"`
	StartedAt time.Time `json:"startedAt"`
	Strategy  string    `json:"strategy"`
	Reference string    `json:"reference"`
}

// NewContainer returns a container that will run the formation, resolving
// service names with reg.
//
// The default strategy is hybrid, which on unix runs services that do not
// ask for a kind as child processes.  Unless WithProcessCommand says
// otherwise a child is this executable started again with the same
// arguments, so main must call ServeChild when IsChild reports true.  A
// program that does not will run its container again in each child.
// Children refuse to start children of their own, so every launch in
// such a child fails instead of recursing.  Use WithThreads, or set a
// command, for programs that cannot do this.
func NewContainer(reg *Registry, formation Formation, opts ...Option) *Container {
	c := &Container{
		name:         "runnable",
		reg:          reg,
		formation:    formation,
		factory:      NewHybridStrategy,
		notifier:     NewNotifier(),
		restartable:  true,
		pollInterval: DefaultPollInterval,
		finish:       func(*Container) {},
		known:        make(map[string]*Instance),
		restarts:     make(map[string]bool),
		cvs:          make(map[*sync.Cond]bool),
		// As with log IDs, starting from the clock lets clients that
		// cache by serial notice that the container was replaced.
		serial: time.Now().UnixNano(),
	}
	c.createTime = time.Now()
	c.updateTime = c.createTime
	c.mlog = NewMultiLogger()
	c.log = NewLog()
	c.mlog.AddLogger(log.New(c.log, "", 0))
	c.SetLogger(log.New(os.Stderr, "", log.LstdFlags))
	for _, o := range opts {
		o(c)
	}
	if c.registerer != nil {
		c.metrics = NewMetrics(c.registerer, c.name)
	}
	c.backoff = NewBackoff(c.notifier)
	c.strategy = c.factory(StrategyConfig{
		Notifier:    c.notifier,
		Reporter:    ReporterFunc(c.report),
		Logger:      c.mlog.Logger(),
		Restartable: c.restartable,
		Command:     c.command,
	})
	return c
}

func (c *Container) lock() {
	c.mx.Lock()
}

func (c *Container) unlock() {
	c.mx.Unlock()
}

// bumpSerial notes a change and wakes watchers.  Call with lock held.
func (c *Container) bumpSerial() {
	c.updateTime = time.Now()
	c.serial++
	for cv := range c.cvs {
		cv.Broadcast()
	}
}

// WatchSerial waits up to expire for the serial to differ from old, and
// returns the current serial.
func (c *Container) WatchSerial(old int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&c.mx)
	var timer *time.Timer

	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			c.lock()
			expired = true
			cv.Broadcast()
			c.unlock()
		})
	} else {
		expired = true
	}

	c.lock()
	c.cvs[cv] = true
	for c.serial == old && !expired {
		cv.Wait()
	}
	delete(c.cvs, cv)
	rv := c.serial
	c.unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// Name returns the container name.
func (c *Container) Name() string {
	return c.name
}

// Notifier returns the event queue of the container.
func (c *Container) Notifier() *Notifier {
	return c.notifier
}

// Strategy returns the strategy instances are launched with.
func (c *Container) Strategy() Strategy {
	return c.strategy
}

// SetLogger replaces the logger that container messages are written to,
// in addition to the in-memory log.
func (c *Container) SetLogger(l *log.Logger) {
	if c.logger != nil {
		c.mlog.DelLogger(c.logger)
	}
	c.logger = l
	if l != nil {
		c.mlog.AddLogger(l)
	}
}

func (c *Container) logf(format string, v ...interface{}) {
	c.mlog.Logger().Printf("["+c.name+"] "+format, v...)
}

func (c *Container) report(inst *Instance, e error) {
	c.metrics.reported(inst)
	if c.reporter != nil {
		c.reporter.Report(inst, e)
		return
	}
	c.logf("%v: error: %v", inst, e)
	if pe, ok := e.(*ServiceError); ok {
		if p, ok := pe.Err.(*PanicError); ok {
			c.logf("%s", p.Stack)
		}
	}
}

// GetLog returns the in-memory log records.
func (c *Container) GetLog(last int64) ([]LogRecord, int64) {
	return c.log.GetRecords(last)
}

// WatchLog waits up to expire for the log to change.
func (c *Container) WatchLog(old int64, expire time.Duration) int64 {
	return c.log.Watch(old, expire)
}

// Run launches every instance of the formation.  It returns an error only
// if the formation names a service the registry does not know, or if the
// container was already started.  Failures of individual instances are
// handled by Wait.
func (c *Container) Run(ctx context.Context) error {
	slots := c.formation.Expand(c.reg)
	defs := make([]Definition, 0, len(slots))
	for _, slot := range slots {
		def, e := c.reg.Lookup(slot.Name)
		if e != nil {
			return fmt.Errorf("%w: %s", e, slot.Name)
		}
		defs = append(defs, def)
	}

	c.lock()
	if c.phase != PhaseIdle {
		c.unlock()
		return ErrAlreadyRunning
	}
	c.ctx = ctx
	c.phase = PhaseRunning
	c.bumpSerial()
	c.unlock()

	c.logf("*** starting: %s ***", c.formation)
	for i, slot := range slots {
		n, clipped := effectiveCount(slot, defs[i])
		if clipped {
			c.logf("WARNING: %s: count %d clipped to limit %d",
				slot.Name, slot.Count, defs[i].Limit())
			c.metrics.clip(slot.Name)
		}
		for j := 0; j < n; j++ {
			c.manageService(NewInstance(defs[i]))
		}
	}
	return nil
}

// manageService starts a new incarnation of inst.
func (c *Container) manageService(inst *Instance) {
	c.lock()
	if c.stopping {
		c.unlock()
		return
	}
	status := inst.incarnate(now())
	inst.setLogger(c.mlog.Logger())
	c.statuses = append(c.statuses, status)
	c.known[inst.ID()] = inst
	c.services = append(c.services, inst)
	c.bumpSerial()
	ctx := c.ctx
	c.unlock()

	e := c.strategy.InvokeService(ctx, inst)
	if errors.Is(e, ErrStopping) {
		c.abandon(inst, status)
		return
	}
	c.metrics.launched(inst)
	if e != nil {
		c.logf("%v: launch failed: %v", inst, e)
		c.report(inst, &ServiceError{Service: inst.Name(), ID: inst.ID(), Err: e})
		c.strategy.ServiceFailed(inst)
		status.MarkFailed()
		c.notifier.Notify(Event{Kind: EventExit, ID: inst.ID(), Status: status})
		return
	}
	c.logf("%v: launched %v, retries %d", inst, inst.Reference(), inst.Metadata().Retries)
	c.strategy.WaitForService(inst)
}

// abandon withdraws an incarnation that the strategy refused to launch
// because its execution environment is shutting down, and stops the
// container.
func (c *Container) abandon(inst *Instance, status *Status) {
	c.lock()
	for i, s := range c.services {
		if s == inst {
			c.services = append(c.services[:i], c.services[i+1:]...)
			break
		}
	}
	for i, s := range c.statuses {
		if s == status {
			c.statuses = append(c.statuses[:i], c.statuses[i+1:]...)
			break
		}
	}
	delete(c.known, inst.ID())
	c.bumpSerial()
	c.unlock()
	c.logf("%v: not launched: %v", inst, ErrStopping)
	c.notifier.Notify(Event{Kind: EventStop, Signal: SignalInterrupt})
}

// Wait consumes events until no instances remain or a stop is requested,
// then stops the remaining instances and waits for all of them to
// resolve.  Cancelling ctx is an interrupt.  The finish hook runs last.
func (c *Container) Wait(ctx context.Context) error {
	c.lock()
	if c.phase == PhaseIdle {
		c.unlock()
		return ErrNotRunning
	}
	if c.waiting {
		c.unlock()
		return ErrAlreadyRunning
	}
	c.waiting = true
	idle := len(c.services) == 0 && c.notifier.Pending() == 0
	c.unlock()

	cancel := context.AfterFunc(ctx, c.Interrupt)
	defer cancel()

	if !idle {
		c.notifier.Listen(c.handle)
	}
	c.shutdown()
	c.finish(c)
	return nil
}

func (c *Container) handle(ev Event) bool {
	switch ev.Kind {
	case EventExit:
		return c.exited(ev)

	case EventRestart:
		c.restartInstance(ev.ID)

	case EventReload:
		c.logf("restart requested")
		c.lock()
		c.reloaded = true
		hooks := c.onRestart
		c.unlock()
		for _, fn := range hooks {
			fn(ev.Payload)
		}
		c.stop(SignalInterrupt)
		return false

	case EventStop:
		c.stop(ev.Signal)
		return false
	}
	return c.alive()
}

// alive reports whether the loop has anything left to wait for.
func (c *Container) alive() bool {
	c.lock()
	defer c.unlock()
	return len(c.services) > 0 || c.backoff.Len() > 0
}

func (c *Container) stop(sig Signal) {
	c.lock()
	c.stopping = true
	c.phase = PhaseStopping
	c.signal = sig
	c.bumpSerial()
	c.unlock()
	if n := c.backoff.CancelAll(); n > 0 {
		c.logf("cancelled %d pending restarts", n)
	}
	c.metrics.setPending(0)
}

func (c *Container) exited(ev Event) bool {
	c.lock()
	inst := c.known[ev.ID]
	if inst == nil {
		c.unlock()
		return c.alive()
	}
	for i, s := range c.services {
		if s == inst {
			c.services = append(c.services[:i], c.services[i+1:]...)
			break
		}
	}
	requested := c.restarts[ev.ID]
	delete(c.restarts, ev.ID)
	relaunch := !c.stopping && c.phase == PhaseRunning &&
		(inst.Restartable() || requested)
	if !relaunch {
		delete(c.known, ev.ID)
	}
	c.bumpSerial()
	c.unlock()

	status := ev.Status
	c.metrics.exited(inst, status)
	c.logf("%v: exited, %v", inst, status)

	if relaunch {
		if status.Succeeded() {
			c.metrics.restarted(inst, "exit")
			c.manageService(inst)
		} else {
			d := c.backoff.Schedule(inst)
			c.metrics.scheduled(d, c.backoff.Len())
			c.logf("%v: restarting in %v", inst, d)
		}
	}
	return c.alive()
}

func (c *Container) restartInstance(id string) {
	c.lock()
	inst := c.known[id]
	ok := inst != nil && !c.stopping && c.phase == PhaseRunning
	restartable := c.restartable
	c.unlock()
	if !ok {
		return
	}
	if c.backoff.Cancel(id) {
		c.metrics.setPending(c.backoff.Len())
		c.metrics.restarted(inst, "backoff")
		c.manageService(inst)
		return
	}
	if inst.Reference() != nil {
		c.logf("%v: restarting", inst)
		c.metrics.restarted(inst, "request")
		if restartable {
			// Relaunched on exit even if the service is one-shot.
			c.lock()
			c.restarts[id] = true
			c.unlock()
		}
		if e := c.strategy.StopService(inst, SignalRestart); e != nil {
			c.logf("%v: restart failed: %v", inst, e)
		}
	}
}

// shutdown signals every live instance and polls until each of their
// statuses has resolved.
func (c *Container) shutdown() {
	c.lock()
	c.stopping = true
	c.phase = PhaseStopping
	sig := c.signal
	live := append([]*Instance{}, c.services...)
	c.bumpSerial()
	c.unlock()
	c.backoff.CancelAll()

	statuses := make([]*Status, len(live))
	for i, inst := range live {
		statuses[i] = inst.Status()
	}
	if len(live) > 0 {
		c.logf("stopping %d instances: %v", len(live), sig)
		c.signalAll(live, sig)
	}

	var deadline time.Time
	if c.shutdownTimeout > 0 {
		deadline = time.Now().Add(c.shutdownTimeout)
	}
	for {
		var pending []*Instance
		for i, s := range statuses {
			if s.Unknown() {
				pending = append(pending, live[i])
			}
		}
		if len(pending) == 0 {
			break
		}
		if sig != SignalTerminate {
			c.lock()
			escalate := c.escalate
			c.unlock()
			if escalate || (!deadline.IsZero() && time.Now().After(deadline)) {
				sig = SignalTerminate
				c.logf("terminating %d instances", len(pending))
				c.signalAll(pending, sig)
			}
		}
		time.Sleep(c.pollInterval)
	}

	c.lock()
	c.phase = PhaseDrained
	c.services = nil
	c.bumpSerial()
	c.unlock()
	c.logf("*** stopped ***")
}

func (c *Container) signalAll(live []*Instance, sig Signal) {
	var g errgroup.Group
	for _, inst := range live {
		g.Go(func() error {
			return c.strategy.StopService(inst, sig)
		})
	}
	if e := g.Wait(); e != nil {
		c.logf("stop: %v", e)
	}
}

// Interrupt asks the container to stop its instances gracefully.
func (c *Container) Interrupt() {
	c.notifier.Notify(Event{Kind: EventStop, Signal: SignalInterrupt})
}

// Terminate asks the container to stop its instances without their stop
// hooks.  It also escalates a shutdown already in progress.
func (c *Container) Terminate() {
	c.lock()
	c.escalate = true
	c.unlock()
	c.notifier.Notify(Event{Kind: EventStop, Signal: SignalTerminate})
}

// Restart runs the restart hooks with payload, then interrupts the
// container.  Reloaded reports true afterwards.
func (c *Container) Restart(payload map[string]string) {
	c.notifier.Notify(Event{Kind: EventReload, Payload: payload})
}

// RestartInstance relaunches one instance.  A live instance is sent a
// restart signal and is launched again when it exits, whether or not its
// service is restartable.  One waiting out a backoff is launched at once.
func (c *Container) RestartInstance(id string) error {
	c.lock()
	_, ok := c.known[id]
	c.unlock()
	if !ok {
		return ErrUnknownInstance
	}
	c.notifier.Notify(Event{Kind: EventRestart, ID: id})
	return nil
}

// Stopping reports whether a stop has been requested.
func (c *Container) Stopping() bool {
	c.lock()
	defer c.unlock()
	return c.stopping
}

// Reloaded reports whether the container stopped because of Restart.
func (c *Container) Reloaded() bool {
	c.lock()
	defer c.unlock()
	return c.reloaded
}

// Phase returns the current phase.
func (c *Container) Phase() Phase {
	c.lock()
	defer c.unlock()
	return c.phase
}

// Success reports whether no incarnation has ever failed.
func (c *Container) Success() bool {
	c.lock()
	defer c.unlock()
	for _, s := range c.statuses {
		if s.Failed() {
			return false
		}
	}
	return true
}

// Live returns the instances that are currently running.
func (c *Container) Live() []*Instance {
	c.lock()
	defer c.unlock()
	return append([]*Instance{}, c.services...)
}

// Statuses returns the status of every incarnation launched so far.
func (c *Container) Statuses() []*Status {
	c.lock()
	defer c.unlock()
	return append([]*Status{}, c.statuses...)
}

// Info returns a snapshot of the container.
func (c *Container) Info() *ContainerInfo {
	c.lock()
	defer c.unlock()
	i := &ContainerInfo{
		Name:       c.name,
		Phase:      c.phase.String(),
		Formation:  c.formation.String(),
		Stopping:   c.stopping,
		Success:    true,
		Live:       len(c.services),
		Pending:    c.backoff.Len(),
		Launches:   len(c.statuses),
		Serial:     c.serial,
		CreateTime: c.createTime,
		UpdateTime: c.updateTime,
	}
	for _, s := range c.statuses {
		if s.Failed() {
			i.Success = false
			i.Failures++
		}
	}
	return i
}

// Instances returns a snapshot of every live or pending instance, and the
// serial it was taken at.
func (c *Container) Instances() ([]*InstanceInfo, int64) {
	c.lock()
	defer c.unlock()
	live := make(map[*Instance]bool)
	for _, inst := range c.services {
		live[inst] = true
	}
	rv := make([]*InstanceInfo, 0, len(c.known))
	for _, inst := range c.known {
		rv = append(rv, c.instanceInfo(inst, live[inst]))
	}
	return rv, c.serial
}

// GetInstance returns a snapshot of one instance.
func (c *Container) GetInstance(id string) (*InstanceInfo, error) {
	c.lock()
	defer c.unlock()
	inst := c.known[id]
	if inst == nil {
		return nil, ErrUnknownInstance
	}
	live := false
	for _, s := range c.services {
		if s == inst {
			live = true
		}
	}
	return c.instanceInfo(inst, live), nil
}

func (c *Container) instanceInfo(inst *Instance, live bool) *InstanceInfo {
	meta := inst.Metadata()
	i := &InstanceInfo{
		ID:        inst.ID(),
		Service:   inst.Name(),
		Status:    inst.Status().String(),
		Live:      live,
		Pending:   c.backoff.Pending(inst.ID()),
		Retries:   meta.Retries,
		StartedAt: meta.StartedAt,
		Strategy:  string(inst.Strategy()),
	}
	if ref := inst.Reference(); ref != nil {
		i.Strategy = string(ref.Kind())
		i.Reference = ref.String()
	}
	return i
}
