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

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/gdamore/runnable/rest"
	"github.com/gdamore/runnable/runnable/util"
)

var (
	StyleNormal = tcell.StyleDefault.
			Foreground(tcell.ColorSilver).
			Background(tcell.ColorBlack)
	StyleGood = tcell.StyleDefault.
			Foreground(tcell.ColorGreen).
			Background(tcell.ColorBlack)
	StyleWarn = tcell.StyleDefault.
			Foreground(tcell.ColorYellow).
			Background(tcell.ColorBlack)
	StyleError = tcell.StyleDefault.
			Foreground(tcell.ColorMaroon).
			Background(tcell.ColorBlack)
)

// MainPanel implements a Widget as a Panel, but provides the data
// model and handling for the content area, using the instance table
// loaded from the control API.
type MainPanel struct {
	content  *views.CellView
	selected *rest.InstanceInfo
	nfailed  int
	nrunning int
	nbackoff int
	width    int
	height   int
	curx     int
	cury     int
	lines    []string
	styles   []tcell.Style
	items    []*rest.InstanceInfo

	Panel
}

// mainModel provides the model for a CellArea.
type mainModel struct {
	m *MainPanel
}

func NewMainPanel(app *App) *MainPanel {
	m := &MainPanel{}

	m.Panel.Init(app)
	m.content = views.NewCellView()
	m.SetContent(m.content)

	m.content.SetModel(&mainModel{m})
	m.content.SetStyle(StyleNormal)

	m.SetTitle("Instances")
	m.SetKeys([]string{"[Q] Quit"})

	return m
}

func (m *MainPanel) Draw() {
	m.update()
	m.Panel.Draw()
}

func (m *MainPanel) HandleEvent(ev tcell.Event) bool {
	app := m.App()
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			m.unselect()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyEnter:
			if m.selected != nil {
				app.ShowInfo(m.selected.ID)
				return true
			}
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.Quit()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'I', 'i':
				if m.selected != nil {
					app.ShowInfo(m.selected.ID)
					return true
				}
			case 'L', 'l':
				app.ShowLog()
				return true
			case 'R', 'r':
				if m.selected != nil {
					app.RestartInstance(m.selected.ID)
					return true
				}
			case 'Z', 'z':
				app.Reload()
				return true
			case 'X', 'x':
				app.Interrupt()
				return true
			case 'K', 'k':
				app.Terminate()
				return true
			}
		}
	}
	return m.Panel.HandleEvent(ev)
}

// Model items
func (model *mainModel) GetCell(x, y int) (rune, tcell.Style, []rune, int) {
	var ch rune
	var style tcell.Style

	m := model.m

	if y < 0 || y >= len(m.lines) {
		return ch, StyleNormal, nil, 1
	}

	if x >= 0 && x < len(m.lines[y]) {
		ch = rune(m.lines[y][x])
	} else {
		ch = ' '
	}
	style = m.styles[y]
	if m.items[y] == m.selected {
		style = style.Reverse(true)
	}
	return ch, style, nil, 1
}

func (model *mainModel) GetBounds() (int, int) {
	// This assumes that all content is displayable runes of width 1.
	m := model.m
	y := len(m.lines)
	x := 0
	for _, l := range m.lines {
		if x < len(l) {
			x = len(l)
		}
	}
	return x, y
}

func (model *mainModel) GetCursor() (int, int, bool, bool) {
	m := model.m
	return m.curx, m.cury, true, false
}

func (model *mainModel) MoveCursor(offx, offy int) {
	m := model.m
	m.curx += offx
	m.cury += offy
	m.updateCursor(true)
}

func (model *mainModel) SetCursor(x, y int) {
	m := model.m
	m.curx = x
	m.cury = y
	m.updateCursor(true)
}

func (m *MainPanel) unselect() {
	m.cury = 0
	m.curx = 0
	m.updateCursor(false)
}

func (m *MainPanel) updateCursor(selected bool) {
	if m.curx > m.width-1 {
		m.curx = m.width - 1
	}
	if m.cury > m.height-1 {
		m.cury = m.height - 1
	}
	if m.curx < 0 {
		m.curx = 0
	}
	if m.cury < 0 {
		m.cury = 0
	}
	if selected && m.height > 0 {
		if m.selected == nil {
			m.curx = 0
			m.cury = 0
		}
		m.selected = m.items[m.cury]
	} else {
		m.selected = nil
	}
}

func instanceStyle(i *rest.InstanceInfo) tcell.Style {
	switch util.Status(i) {
	case "failed":
		return StyleError
	case "backoff", "stopping":
		return StyleWarn
	case "running":
		return StyleGood
	}
	return StyleNormal
}

func instanceLine(i *rest.InstanceInfo) string {
	return fmt.Sprintf("%-8s  %-16s %-9s %9s %7d   %s",
		util.ShortID(i.ID), i.Service, util.Status(i),
		util.FormatDuration(util.Uptime(i)), i.Retries, i.Reference)
}

// update is called to update content, e.g. in response to Draw() or
// as part of another update.  It is called with the AppLock held.
func (m *MainPanel) update() {

	items, err := m.App().GetItems()
	m.items = items

	// preserve selected item
	if sel := m.selected; sel != nil {
		m.selected = nil
		for cury, item := range m.items {
			if item.ID == sel.ID {
				m.selected = item
				m.cury = cury
			}
		}
	}
	if err != nil {
		if Unauthorized(err) {
			m.App().ShowAuth()
			return
		}
		m.SetError()
		m.SetStatus(fmt.Sprintf("Cannot load items: %v", err))
		m.lines = []string{}
		m.styles = []tcell.Style{}
		m.items = nil
		m.selected = nil
		m.height = 0
		return
	}

	lines := make([]string, 0, len(m.items))
	styles := make([]tcell.Style, 0, len(m.items))

	m.nfailed = 0
	m.nrunning = 0
	m.nbackoff = 0

	m.height = 0
	m.width = 0

	for _, info := range items {
		line := instanceLine(info)
		if len(line) > m.width {
			m.width = len(line)
		}
		m.height++

		lines = append(lines, line)
		styles = append(styles, instanceStyle(info))
		switch util.Status(info) {
		case "failed":
			m.nfailed++
		case "backoff":
			m.nbackoff++
		case "running":
			m.nrunning++
		}
	}

	m.lines = lines
	m.styles = styles

	title := "Instances"
	if c, _ := m.App().GetContainer(); c != nil {
		title = fmt.Sprintf("%s (%s, %s)", c.Name, c.Formation, c.Phase)
	}
	m.SetTitle(title)
	m.SetStatus(fmt.Sprintf(
		"%6d Instances %6d Running %6d Backoff %6d Failed",
		len(m.items), m.nrunning, m.nbackoff, m.nfailed))

	if m.nfailed > 0 {
		m.SetError()
	} else if m.nbackoff > 0 {
		m.SetWarn()
	} else if m.nrunning > 0 {
		m.SetGood()
	} else {
		m.SetNormal()
	}

	words := []string{"[Q] Quit", "[H] Help", "[L] Log"}
	if m.selected != nil {
		words = append(words, "[I] Info", "[R] Restart")
	}
	words = append(words, "[Z] Reload", "[X] Interrupt", "[K] Terminate")
	m.SetKeys(words)
}
