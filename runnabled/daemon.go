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

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/netutil"
	"vawter.tech/stopper"

	"github.com/gdamore/runnable"
	"github.com/gdamore/runnable/rest"
)

// ErrServicesFailed is returned when the final formation had failures.
var ErrServicesFailed = errors.New("services failed")

// daemon runs one container at a time.  A reload stops the current
// container and starts a fresh one from the configuration as it is then.
type daemon struct {
	path    string
	cfg     *Config
	logger  *log.Logger
	handler *rest.Handler
	current *runnable.Container
	metrics *prometheus.Registry
	addr    net.Addr
	mx      sync.Mutex
}

func newDaemon(path string, cfg *Config, logger *log.Logger) *daemon {
	return &daemon{path: path, cfg: cfg, logger: logger}
}

// listenAddr returns the address of the control API, once listening.
func (d *daemon) listenAddr() net.Addr {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.addr
}

func (d *daemon) container() *runnable.Container {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.current
}

// gather serves the metrics of the current container.
func (d *daemon) gather() ([]*dto.MetricFamily, error) {
	d.mx.Lock()
	reg := d.metrics
	d.mx.Unlock()
	if reg == nil {
		return nil, nil
	}
	return reg.Gather()
}

func (d *daemon) options(reactor *stopper.Context, reg prometheus.Registerer) []runnable.Option {
	cfg := d.cfg
	opts := []runnable.Option{
		runnable.WithName(cfg.Name),
		runnable.WithLogger(d.logger),
		runnable.WithRestartable(cfg.Restartable),
		runnable.WithShutdownTimeout(cfg.ShutdownTimeout),
		runnable.WithMetrics(reg),
		runnable.WithProcessCommand(runnable.SelfCommand("_service", "--config", d.path)),
	}
	switch cfg.Strategy {
	case "process":
		opts = append(opts, runnable.WithProcesses())
	case "thread":
		opts = append(opts, runnable.WithThreads())
	case "task":
		opts = append(opts, runnable.WithTasks(reactor))
	default:
		opts = append(opts, runnable.WithStrategy(
			runnable.NewHybridTaskStrategy(runnable.NewTaskStrategy(reactor))))
	}
	return opts
}

func (d *daemon) handlerOptions() []rest.HandlerOption {
	opts := []rest.HandlerOption{
		rest.WithGatherer(prometheus.GathererFunc(d.gather)),
	}
	if d.cfg.Auth.User != "" {
		opts = append(opts, rest.WithAuth(d.cfg.Auth.User, []byte(d.cfg.Auth.PasswordHash)))
	}
	return opts
}

// generation runs one container until it drains.
func (d *daemon) generation(ctx context.Context) (*runnable.Container, error) {
	reg, err := d.cfg.Registry()
	if err != nil {
		return nil, err
	}
	form, err := d.cfg.ParseFormation()
	if err != nil {
		return nil, err
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector())
	reactor := stopper.WithContext(ctx)
	c := runnable.NewContainer(reg, form, d.options(reactor, metrics)...)

	d.mx.Lock()
	d.current = c
	d.metrics = metrics
	d.mx.Unlock()
	d.handler.SetContainer(c)

	if err := c.Run(ctx); err != nil {
		return nil, err
	}
	err = c.Wait(ctx)
	reactor.Stop(time.Second)
	reactor.Wait()
	return c, err
}

func (d *daemon) writePid() error {
	if d.cfg.PidFile == "" {
		return nil
	}
	pid := strconv.Itoa(os.Getpid()) + "\n"
	return renameio.WriteFile(d.cfg.PidFile, []byte(pid), 0o644)
}

// trap maps SIGINT, SIGTERM and SIGHUP onto the current container.
func (d *daemon) trap(ctx context.Context) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-sigs:
				c := d.container()
				if c == nil {
					continue
				}
				d.logger.Printf("received %v", s)
				switch s {
				case syscall.SIGINT:
					c.Interrupt()
				case syscall.SIGTERM:
					c.Terminate()
				case syscall.SIGHUP:
					c.Restart(map[string]string{"reason": "signal"})
				}
			}
		}
	}()
}

// reloadDelay coalesces bursts of file events into one reload.
const reloadDelay = 200 * time.Millisecond

func (d *daemon) reload() {
	if c := d.container(); c != nil {
		d.logger.Printf("%s changed, reloading", d.path)
		c.Restart(map[string]string{"reason": "config", "file": d.path})
	}
}

// watch reloads the current container when the configuration file
// changes.  The directory is watched so that editors which replace the
// file are noticed.
func (d *daemon) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	path, err := filepath.Abs(d.path)
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return err
	}
	go func() {
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
			w.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				// One save is often several events.
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDelay, d.reload)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				d.logger.Printf("watch %s: %v", d.path, err)
			}
		}
	}()
	return nil
}

func (d *daemon) listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", d.cfg.Listen)
	if err != nil {
		return nil, err
	}
	if d.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, d.cfg.MaxConnections)
	}
	return ln, nil
}

// serve runs containers until one stops for a reason other than reload.
func (d *daemon) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if d.cfg.Auth.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(d.cfg.Auth.PasswordHash)); err != nil {
			return fmt.Errorf("auth.password_hash: %w", err)
		}
	}
	if err := d.writePid(); err != nil {
		return err
	}
	if d.cfg.PidFile != "" {
		defer os.Remove(d.cfg.PidFile)
	}

	ln, err := d.listen()
	if err != nil {
		return err
	}
	d.mx.Lock()
	d.addr = ln.Addr()
	d.mx.Unlock()
	d.handler = rest.NewHandler(nil, d.handlerOptions()...)
	srv := &http.Server{Handler: d.handler}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Printf("control API: %v", err)
		}
	}()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), time.Second)
		defer scancel()
		srv.Shutdown(sctx)
	}()
	d.logger.Printf("control API listening on %s", ln.Addr())

	d.trap(ctx)
	if err := d.watch(ctx); err != nil {
		d.logger.Printf("not watching %s: %v", d.path, err)
	}

	for {
		c, err := d.generation(ctx)
		if err != nil {
			return err
		}
		if !c.Reloaded() {
			if !c.Success() {
				return ErrServicesFailed
			}
			return nil
		}
		cfg, err := LoadConfig(d.path, false)
		if err != nil {
			d.logger.Printf("reload: %v, keeping previous configuration", err)
			continue
		}
		if cfg.Listen != d.cfg.Listen || cfg.Auth != d.cfg.Auth {
			d.logger.Printf("reload: listen and auth changes need a restart")
		}
		cfg.Listen = d.cfg.Listen
		cfg.Auth = d.cfg.Auth
		d.cfg = cfg
	}
}
