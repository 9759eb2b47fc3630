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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// ChildCommand describes how the process strategy starts a child.  The
// child must call ServeChild with a registry holding the same services.
type ChildCommand struct {
	Path string
	Args []string
	Env  []string
}

// SelfCommand runs the current executable again with args in place of
// the current arguments.
func SelfCommand(args ...string) ChildCommand {
	return ChildCommand{Args: append([]string{}, args...)}
}

func (c ChildCommand) command(inst *Instance, restartable bool) (*exec.Cmd, error) {
	if IsChild() {
		return nil, ErrNestedChild
	}
	path := c.Path
	if path == "" {
		exe, e := os.Executable()
		if e != nil {
			return nil, e
		}
		path = exe
	}
	args := c.Args
	if args == nil && c.Path == "" {
		args = os.Args[1:]
	}
	cmd := exec.Command(path, args...)
	env := c.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(append(make([]string, 0, len(env)+3), env...),
		EnvService+"="+inst.Name(),
		EnvInstance+"="+inst.ID(),
		EnvRestartable+"="+strconv.FormatBool(restartable),
	)
	cmd.SysProcAttr = sysProcAttr()
	return cmd, nil
}

// ProcessStrategy runs each instance in a child process.  The body runs
// in the child under ServeChild; the parent reaps the child and maps its
// exit status onto the incarnation.  A child that exits with a non-zero
// status failed.
type ProcessStrategy struct {
	cfg      StrategyConfig
	notifier *Notifier
	logger   *log.Logger
}

// NewProcessStrategy is a StrategyFactory.
func NewProcessStrategy(cfg StrategyConfig) Strategy {
	return newProcessStrategy(cfg)
}

func newProcessStrategy(cfg StrategyConfig) *ProcessStrategy {
	return &ProcessStrategy{
		cfg:      cfg,
		notifier: cfg.Notifier,
		logger:   cfg.logger(),
	}
}

// child is the reference for an instance running in a child process.
type child struct {
	cmd    *exec.Cmd
	inst   *Instance
	status *Status
	output sync.WaitGroup
	reaped chan struct{}
}

func (c *child) Kind() StrategyKind {
	return StrategyProcess
}

func (c *child) String() string {
	if c.cmd.Process == nil {
		return "process:-"
	}
	return fmt.Sprintf("process:%d", c.cmd.Process.Pid)
}

// Pid returns the child process id.
func (c *child) Pid() int {
	return c.cmd.Process.Pid
}

func doLog(logger *log.Logger, r io.Reader, prefix string) {
	// Gather stdout/stderr in chunks of lines
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) != 0 {
			logger.Print(prefix, strings.TrimRight(line, "\n"))
		}
		if err != nil {
			return
		}
	}
}

func (p *ProcessStrategy) InvokeService(ctx context.Context, inst *Instance) error {
	cmd, e := p.cfg.Command.command(inst, p.cfg.Restartable)
	if e != nil {
		return e
	}
	c := &child{
		cmd:    cmd,
		inst:   inst,
		status: inst.Status(),
		reaped: make(chan struct{}),
	}
	logger := inst.Logger()
	if stdout, e := cmd.StdoutPipe(); e != nil {
		p.logger.Printf("%v: failed to capture stdout: %v", inst, e)
	} else {
		c.output.Add(1)
		go func() {
			defer c.output.Done()
			doLog(logger, stdout, "stdout> ")
		}()
	}
	if stderr, e := cmd.StderrPipe(); e != nil {
		p.logger.Printf("%v: failed to capture stderr: %v", inst, e)
	} else {
		c.output.Add(1)
		go func() {
			defer c.output.Done()
			doLog(logger, stderr, "stderr> ")
		}()
	}
	if e := cmd.Start(); e != nil {
		return e
	}
	inst.setReference(c)
	return nil
}

// WaitForService starts the reaper for the current child.
func (p *ProcessStrategy) WaitForService(inst *Instance) {
	c, ok := inst.Reference().(*child)
	if !ok {
		return
	}
	go p.reap(c)
}

func (p *ProcessStrategy) reap(c *child) {
	c.output.Wait()
	e := c.cmd.Wait()
	var exit *exec.ExitError
	switch {
	case e == nil:
		c.status.MarkSuccess()
	case errors.As(e, &exit):
		p.logger.Printf("%v: %v", c.inst, e)
		c.status.MarkFailed()
	default:
		// The child is gone either way.
		c.status.MarkSuccess()
	}
	close(c.reaped)
	c.inst.clearReference(c)
	p.notifier.Notify(Event{Kind: EventExit, ID: c.inst.ID(), Status: c.status})
}

// StopService sends the operating system form of sig to the child.
func (p *ProcessStrategy) StopService(inst *Instance, sig Signal) error {
	c, ok := inst.Reference().(*child)
	if !ok {
		return nil
	}
	select {
	case <-c.reaped:
		return nil
	default:
	}
	e := c.cmd.Process.Signal(sig.OS())
	if e != nil && sig == SignalTerminate && !errors.Is(e, os.ErrProcessDone) {
		e = c.cmd.Process.Kill()
	}
	if e != nil && !errors.Is(e, os.ErrProcessDone) && !processGone(e) {
		return e
	}
	return nil
}

// ServiceFailed marks the incarnation failed.  Inside the child the same
// escalation makes ServeChild return a non-zero exit status.
func (p *ProcessStrategy) ServiceFailed(inst *Instance) {
	markFailed(inst)
}
