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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultStopTime is how long an external command gets to exit after it
// is asked to stop, before it is killed.
const DefaultStopTime = 10 * time.Second

var ErrNoCommand = errors.New("No command")

// ExecManifest describes a service that runs an external command.
type ExecManifest struct {
	Name        string        `json:"name" koanf:"name" validate:"required,excludes=0x2C"`
	Description string        `json:"description" koanf:"description"`
	Command     []string      `json:"command" koanf:"command" validate:"required,min=1"`
	Env         []string      `json:"env" koanf:"env"`
	Dir         string        `json:"dir" koanf:"dir"`
	StopCmd     []string      `json:"stopCommand" koanf:"stop_command"`
	StopTime    time.Duration `json:"stopTime" koanf:"stop_time" validate:"gte=0"`
	Count       int           `json:"count" koanf:"count" validate:"gte=0"`
	Limit       int           `json:"limit" koanf:"limit" validate:"gte=0"`
	Restart     bool          `json:"restart" koanf:"restart"`
	Strategy    string        `json:"strategy" koanf:"strategy" validate:"omitempty,oneof=process thread task"`
}

// ExecService is a Definition whose body runs an external command.  The
// command's output goes to the instance logger.  When the instance is
// stopped the command gets SIGTERM, or the stop command if there is one,
// and is killed if it has not exited after the stop time.
type ExecService struct {
	m ExecManifest
}

// NewExecService returns a definition for the manifest.
func NewExecService(m ExecManifest) *ExecService {
	if m.Count == 0 {
		m.Count = 1
	}
	if m.StopTime == 0 {
		m.StopTime = DefaultStopTime
	}
	return &ExecService{m: m}
}

// NewExecServiceFromJson decodes a manifest from r.
func NewExecServiceFromJson(r io.Reader) (*ExecService, error) {
	dec := json.NewDecoder(r)
	var m ExecManifest
	if e := dec.Decode(&m); e != nil {
		return nil, e
	}
	return NewExecService(m), nil
}

func (x *ExecService) Name() string           { return x.m.Name }
func (x *ExecService) Description() string    { return x.m.Description }
func (x *ExecService) Count() int             { return x.m.Count }
func (x *ExecService) Limit() int             { return x.m.Limit }
func (x *ExecService) Restartable() bool      { return x.m.Restart }
func (x *ExecService) Strategy() StrategyKind { return StrategyKind(x.m.Strategy) }
func (x *ExecService) Stop(*Instance)         {}

// Manifest returns a copy of the manifest.
func (x *ExecService) Manifest() ExecManifest {
	return x.m
}

func (x *ExecService) Run(ctx context.Context, inst *Instance) error {
	if len(x.m.Command) == 0 {
		return ErrNoCommand
	}
	logger := inst.Logger()
	cmd := exec.Command(x.m.Command[0], x.m.Command[1:]...)
	cmd.Env = append(os.Environ(), x.m.Env...)
	cmd.Dir = x.m.Dir

	var output sync.WaitGroup
	if e := capture(cmd, logger, "", &output); e != nil {
		return e
	}
	if e := cmd.Start(); e != nil {
		return e
	}
	done := make(chan error, 1)
	go func() {
		output.Wait()
		done <- cmd.Wait()
	}()

	select {
	case e := <-done:
		return e
	case <-ctx.Done():
	}

	if errors.Is(context.Cause(ctx), ErrTerminate) {
		if e := cmd.Process.Kill(); e != nil {
			logger.Printf("Failed killing: %v", e)
		}
	} else {
		x.shutdown(cmd, logger)
	}
	timer := time.AfterFunc(x.m.StopTime, func() {
		logger.Printf("Graceful shutdown timed out")
		if e := cmd.Process.Kill(); e != nil {
			logger.Printf("Failed killing: %v", e)
		}
	})
	<-done
	timer.Stop()
	return context.Cause(ctx)
}

func (x *ExecService) shutdown(cmd *exec.Cmd, logger *log.Logger) {
	if len(x.m.StopCmd) == 0 {
		if e := cmd.Process.Signal(syscall.SIGTERM); e != nil {
			logger.Printf("Failed sending SIGTERM: %v", e)
		}
		return
	}
	stop := exec.Command(x.m.StopCmd[0], x.m.StopCmd[1:]...)
	// The stop command finds its target in $PID.
	stop.Env = append(os.Environ(), x.m.Env...)
	stop.Env = append(stop.Env, fmt.Sprintf("PID=%d", cmd.Process.Pid))
	stop.Dir = x.m.Dir
	if e := runWithTimeout(stop, logger, x.m.StopTime); e != nil {
		logger.Printf("Failed stop cmd: %v", e)
	}
}

func capture(cmd *exec.Cmd, logger *log.Logger, pfx string, wg *sync.WaitGroup) error {
	stdout, e := cmd.StdoutPipe()
	if e != nil {
		return e
	}
	stderr, e := cmd.StderrPipe()
	if e != nil {
		return e
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		doLog(logger, stdout, pfx+"stdout> ")
	}()
	go func() {
		defer wg.Done()
		doLog(logger, stderr, pfx+"stderr> ")
	}()
	return nil
}

func runWithTimeout(cmd *exec.Cmd, logger *log.Logger, d time.Duration) error {
	var output sync.WaitGroup
	if e := capture(cmd, logger, "stop ", &output); e != nil {
		return e
	}
	if e := cmd.Start(); e != nil {
		return e
	}
	proc := cmd.Process
	timer := time.AfterFunc(d, func() {
		logger.Printf("Timeout waiting for stop command")
		proc.Kill()
	})
	output.Wait()
	e := cmd.Wait()
	timer.Stop()
	return e
}
