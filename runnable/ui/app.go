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

// Package ui is a terminal user interface for a runnabled control API.
package ui

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/gdamore/runnable/rest"
	"github.com/gdamore/runnable/runnable/util"
)

type App struct {
	app       *views.Application
	view      views.View
	panel     views.Widget
	info      *InfoPanel
	help      *HelpPanel
	log       *LogPanel
	main      *MainPanel
	auth      *AuthPanel
	client    *rest.Client
	server    string
	logger    *log.Logger
	err       error
	container *rest.ContainerInfo
	items     []*rest.InstanceInfo
	logInfo   *rest.LogInfo
	logErr    error
	logCancel context.CancelFunc

	views.WidgetWatchers
}

func (a *App) show(w views.Widget) {
	if w != a.panel {
		a.panel.SetView(nil)
		a.panel = w
	}
	a.panel.SetView(a.view)
	a.panel.Resize()
	a.app.Refresh()
}

func (a *App) ShowHelp() {
	a.show(a.help)
}

func (a *App) ShowInfo(id string) {
	a.info.SetID(id)
	a.show(a.info)
}

func (a *App) ShowLog() {
	if a.logCancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.logCancel = cancel
		go a.refreshLog(ctx)
	}
	a.show(a.log)
}

func (a *App) ShowMain() {
	a.show(a.main)
}

func (a *App) ShowAuth() {
	a.auth.ResetFields()
	a.show(a.auth)
}

func (a *App) SetUserPassword(user, pass string) {
	a.client.SetAuth(user, pass)
}

func (a *App) action(what string, e error) {
	if e != nil {
		a.Logf("%s: %v", what, e)
	}
}

func (a *App) RestartInstance(id string) {
	a.action("restart", a.client.RestartInstance(id))
}

func (a *App) Reload() {
	a.action("reload", a.client.Restart(map[string]string{"reason": "ui"}))
}

func (a *App) Interrupt() {
	a.action("interrupt", a.client.Interrupt())
}

func (a *App) Terminate() {
	a.action("terminate", a.client.Terminate())
}

func (a *App) Quit() {
	if a.logCancel != nil {
		a.logCancel()
	}
	/* This just posts the quit event. */
	a.app.Quit()
}

func (a *App) SetLogger(logger *log.Logger) {
	a.logger = logger
}

func (a *App) Logf(fmt string, v ...interface{}) {
	if a.logger != nil {
		a.logger.Printf(fmt, v...)
	}
}

func (a *App) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		// Intercept a few control keys up front, for global handling.
		case tcell.KeyCtrlC:
			a.Quit()
			return true
		case tcell.KeyCtrlL:
			a.app.Refresh()
			return true
		}
	}

	if a.panel != nil {
		return a.panel.HandleEvent(ev)
	}
	return false
}

func (a *App) Draw() {
	if a.panel != nil {
		a.panel.Draw()
	}
}

func (a *App) Resize() {
	if a.panel != nil {
		a.panel.Resize()
	}
}

func (a *App) SetView(view views.View) {
	a.view = view
	if a.panel != nil {
		a.panel.SetView(view)
	}
}

func (a *App) Size() (int, int) {
	if a.panel != nil {
		return a.panel.Size()
	}
	return 0, 0
}

func (a *App) GetClient() *rest.Client {
	return a.client
}

func (a *App) GetAppName() string {
	return "Runnable v1.0"
}

func (a *App) Server() string {
	return a.server
}

func NewApp(client *rest.Client, server string) *App {

	app := &App{}
	app.app = &views.Application{}
	app.client = client
	app.server = server
	app.info = NewInfoPanel(app)
	app.help = NewHelpPanel(app)
	app.log = NewLogPanel(app)
	app.main = NewMainPanel(app)
	app.auth = NewAuthPanel(app)
	app.panel = app.main

	go app.refresh()
	return app
}

// fetch returns the container summary and a sorted copy of the instance
// table.  A nil last fetches without waiting.
func (a *App) fetch(last *rest.InstanceList) (*rest.InstanceList, *rest.ContainerInfo, []*rest.InstanceInfo, error) {
	var list *rest.InstanceList
	var e error
	if last == nil {
		list, e = a.client.Instances()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		list, e = a.client.WatchInstances(ctx, last)
		cancel()
	}
	if e != nil {
		return nil, nil, nil, e
	}
	info, e := a.client.Info()
	if e != nil {
		return nil, nil, nil, e
	}
	items := append([]*rest.InstanceInfo{}, list.Instances...)
	util.SortInstances(items)
	return list, info, items, nil
}

// refresh keeps the app items current
func (a *App) refresh() {
	var last *rest.InstanceList
	for {
		list, info, items, e := a.fetch(last)

		a.app.PostFunc(func() {
			if e == nil {
				a.items = items
				a.container = info
			}
			a.err = e
			a.app.Update()
		})
		last = list
		if e != nil {
			time.Sleep(2 * time.Second)
		}
	}
}

func (a *App) refreshLog(ctx context.Context) {
	info, e := a.client.GetLog()

	for {
		a.app.PostFunc(func() {
			a.logInfo = info
			a.logErr = e
			a.app.Update()
		})
		if e != nil {
			info = nil
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		if info == nil {
			info, e = a.client.GetLog()
		} else {
			info, e = a.client.WatchLog(ctx, info)
		}
	}
}

// Unauthorized reports whether err is the server refusing our credentials.
func Unauthorized(err error) bool {
	var re *rest.Error
	return errors.As(err, &re) && re.Code == http.StatusUnauthorized
}

func (a *App) GetContainer() (*rest.ContainerInfo, error) {
	return a.container, a.err
}

func (a *App) GetItems() ([]*rest.InstanceInfo, error) {
	return a.items, a.err
}

func (a *App) GetItem(id string) (*rest.InstanceInfo, error) {
	if a.err != nil {
		return nil, a.err
	}
	for _, i := range a.items {
		if i.ID == id {
			return i, nil
		}
	}
	return nil, errors.New("Instance not found")
}

func (a *App) GetLog() (*rest.LogInfo, error) {
	return a.logInfo, a.logErr
}

func (a *App) Run() error {
	a.Logf("Starting up user interface")
	a.app.SetRootWidget(a)
	a.ShowMain()
	go func() {
		// Give us periodic updates
		for {
			a.app.Update()
			time.Sleep(time.Second)
		}
	}()
	a.Logf("Starting app loop")
	return a.app.Run()
}
