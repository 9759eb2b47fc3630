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

package ui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/gdamore/runnable/rest"
	"github.com/gdamore/runnable/runnable/util"
)

// InfoPanel shows the details of one instance.
type InfoPanel struct {
	text *views.TextArea
	info *rest.InstanceInfo
	id   string
	err  error // last error retrieving state

	Panel
}

func NewInfoPanel(app *App) *InfoPanel {
	p := &InfoPanel{}
	p.Panel.Init(app)

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)
	p.SetKeys([]string{"[ESC] Main", "[H] Help"})
	return p
}

func (p *InfoPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *InfoPanel) HandleEvent(ev tcell.Event) bool {
	app := p.App()
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			app.ShowMain()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.ShowMain()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'L', 'l':
				app.ShowLog()
				return true
			case 'R', 'r':
				if p.info != nil {
					app.RestartInstance(p.info.ID)
					return true
				}
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

func (p *InfoPanel) SetID(id string) {
	p.id = id
	p.info = nil
}

func infoLines(i *rest.InstanceInfo) []string {
	started := "-"
	if !i.StartedAt.IsZero() {
		started = i.StartedAt.Format(time.RFC3339)
	}
	return []string{
		fmt.Sprintf("%13s %s", "ID:", i.ID),
		fmt.Sprintf("%13s %s", "Service:", i.Service),
		fmt.Sprintf("%13s %s", "State:", util.Status(i)),
		fmt.Sprintf("%13s %s", "Last status:", i.Status),
		fmt.Sprintf("%13s %d", "Retries:", i.Retries),
		fmt.Sprintf("%13s %s", "Started:", started),
		fmt.Sprintf("%13s %s", "Uptime:", util.FormatDuration(util.Uptime(i))),
		fmt.Sprintf("%13s %s", "Strategy:", i.Strategy),
		fmt.Sprintf("%13s %s", "Reference:", i.Reference),
	}
}

// update must be called with AppLock held.
func (p *InfoPanel) update() {
	s, e := p.App().GetItem(p.id)
	p.info = s
	p.err = e
	words := []string{"[ESC] Main", "[H] Help", "[L] Log"}

	p.SetTitle("Details for " + util.ShortID(p.id))

	if s == nil {
		p.SetStatus(fmt.Sprintf("No data: %v", e))
		p.SetError()
		p.text.SetLines(nil)
		p.SetKeys(words)
		return
	}

	p.SetStatus(util.Status(s))
	switch instanceStyle(s) {
	case StyleError:
		p.SetError()
	case StyleWarn:
		p.SetWarn()
	case StyleGood:
		p.SetGood()
	default:
		p.SetNormal()
	}
	p.text.SetLines(infoLines(s))
	p.SetKeys(append(words, "[R] Restart"))
}
