// Package tui renders the interactive tunnel dashboard served inside an SSH
// session. The state machine is fed by three sources merged into one loop:
// keyboard input, registry change signals, and a timer that refreshes the
// byte counters. Rendering is a pure projection of the current state.
package tui

import (
	"io"
	"strings"
	"sync"
	"time"

	"siranga/internal/common"
	"siranga/internal/config"
	"siranga/internal/logger"
	"siranga/internal/registry"
)

// Counters refresh at most twice a second; key presses render immediately.
const tickInterval = 500 * time.Millisecond

type mode int

const (
	modeNormal mode = iota
	modeRename
	modeACL
)

type eventKind int

const (
	eventInput eventKind = iota
	eventResize
)

type event struct {
	kind          eventKind
	data          []byte
	width, height int
}

// TUI is one terminal attached to one user's view of the registry
type TUI struct {
	user    string
	reg     *registry.Registry
	urls    *common.URLBuilder
	version string
	out     io.Writer

	events    chan event
	closed    chan struct{}
	closeOnce sync.Once

	// The fields below belong to the Run goroutine exclusively
	width, height int
	tunnels       []*registry.Tunnel
	selected      int
	mode          mode
	buffer        string
	status        string
}

func New(user string, reg *registry.Registry, cfg *config.Config, out io.Writer) *TUI {
	return &TUI{
		user:     user,
		reg:      reg,
		urls:     common.NewURLBuilder(cfg.TunnelDomain),
		version:  cfg.ReleaseVersion,
		out:      out,
		events:   make(chan event, 16),
		closed:   make(chan struct{}),
		width:    80,
		height:   24,
		selected: -1,
	}
}

// Input feeds raw terminal bytes from the session channel
func (t *TUI) Input(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case t.events <- event{kind: eventInput, data: buf}:
	case <-t.closed:
	}
}

// Resize adjusts the render area after a pty-req or window-change
func (t *TUI) Resize(width, height int) {
	select {
	case t.events <- event{kind: eventResize, width: width, height: height}:
	case <-t.closed:
	}
}

// Close stops the Run loop. Safe to call from any goroutine, repeatedly.
func (t *TUI) Close() {
	t.closeOnce.Do(func() { close(t.closed) })
}

// Run drives the TUI until the user quits or Close is called. The caller
// owns the output channel and closes it after Run returns.
func (t *TUI) Run() {
	changes, cancelWatch := t.reg.Watch()
	defer cancelWatch()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	io.WriteString(t.out, enterScreen)
	defer io.WriteString(t.out, leaveScreen)

	t.render()

	for {
		select {
		case <-t.closed:
			return
		case ev := <-t.events:
			switch ev.kind {
			case eventResize:
				t.width, t.height = ev.width, ev.height
			case eventInput:
				for _, in := range parseInput(ev.data) {
					if quit := t.handleInput(in); quit {
						t.Close()
						return
					}
				}
			}
			t.render()
		case <-changes:
			t.render()
		case <-ticker.C:
			t.render()
		}
	}
}

// refresh re-reads the user's tunnels and clamps the selection
func (t *TUI) refresh() {
	t.tunnels = t.reg.ListFor(t.user)
	if len(t.tunnels) == 0 {
		t.selected = -1
	} else if t.selected >= len(t.tunnels) {
		t.selected = len(t.tunnels) - 1
	}
}

func (t *TUI) selectedTunnel() *registry.Tunnel {
	if t.selected < 0 || t.selected >= len(t.tunnels) {
		return nil
	}
	return t.tunnels[t.selected]
}

// handleInput advances the state machine by one keystroke. Returns true
// when the user asked to leave.
func (t *TUI) handleInput(in Input) bool {
	t.refresh()

	switch t.mode {
	case modeRename, modeACL:
		t.handlePromptInput(in)
		return false
	}

	switch {
	case in.Key == KeyChar && in.Char == 'q':
		return true
	case in.Key == KeyChar && in.Char == 'j', in.Key == KeyDown:
		t.nextRow()
	case in.Key == KeyChar && in.Char == 'k', in.Key == KeyUp:
		t.previousRow()
	case in.Key == KeyEsc:
		t.selected = -1
		t.status = ""
	case in.Key == KeyChar && in.Char == 'P':
		t.setVisibilitySelection(registry.Public)
	case in.Key == KeyChar && in.Char == 'p':
		t.setVisibilitySelection(registry.Private)
	case in.Key == KeyCtrlP:
		t.setVisibilitySelection(registry.Protected)
	case in.Key == KeyChar && in.Char == 'r':
		if t.selectedTunnel() != nil {
			t.mode = modeRename
			t.buffer = ""
			t.status = ""
		}
	case in.Key == KeyChar && in.Char == 'a':
		if tun := t.selectedTunnel(); tun != nil {
			t.mode = modeACL
			t.buffer = strings.Join(tun.ACL(), ",")
			t.status = ""
		}
	case in.Key == KeyDelete:
		if tun := t.selectedTunnel(); tun != nil {
			t.reg.Deregister(tun)
			logger.Debugf("User %s closed tunnel %s from the TUI", t.user, tun.Name())
			t.refresh()
		}
	}

	return false
}

func (t *TUI) handlePromptInput(in Input) {
	switch in.Key {
	case KeyEsc:
		t.mode = modeNormal
		t.buffer = ""
		t.status = ""
	case KeyBackspace:
		if len(t.buffer) > 0 {
			t.buffer = t.buffer[:len(t.buffer)-1]
		}
	case KeyEnter:
		t.commitPrompt()
	case KeyChar:
		if t.promptAccepts(in.Char) {
			c := in.Char
			if c >= 'A' && c <= 'Z' {
				c += 'a' - 'A'
			}
			t.buffer += string(c)
		}
	}
}

func (t *TUI) promptAccepts(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		return true
	case t.mode == modeACL && (c == ',' || c == '.' || c == '_'):
		return true
	}
	return false
}

func (t *TUI) commitPrompt() {
	tun := t.selectedTunnel()
	if tun == nil {
		t.mode = modeNormal
		t.buffer = ""
		return
	}

	switch t.mode {
	case modeRename:
		if err := t.reg.Rename(tun, t.buffer); err != nil {
			t.status = err.Error()
			return
		}
		logger.Debugf("User %s renamed tunnel to %s", t.user, t.buffer)
	case modeACL:
		var users []string
		for _, user := range strings.Split(t.buffer, ",") {
			if user = strings.TrimSpace(user); user != "" {
				users = append(users, user)
			}
		}
		t.reg.SetACL(tun, users)
		logger.Debugf("User %s set ACL of tunnel %s to %v", t.user, tun.Name(), users)
	}

	t.mode = modeNormal
	t.buffer = ""
	t.status = ""
}

// setVisibilitySelection applies to the selected tunnel, or to all of the
// user's tunnels when nothing is selected
func (t *TUI) setVisibilitySelection(v registry.Visibility) {
	if tun := t.selectedTunnel(); tun != nil {
		t.reg.SetVisibility(tun, v)
		return
	}
	for _, tun := range t.tunnels {
		t.reg.SetVisibility(tun, v)
	}
}

func (t *TUI) nextRow() {
	if len(t.tunnels) == 0 {
		return
	}
	if t.selected < 0 {
		t.selected = 0
	} else if t.selected < len(t.tunnels)-1 {
		t.selected++
	}
}

func (t *TUI) previousRow() {
	if len(t.tunnels) == 0 {
		return
	}
	if t.selected < 0 {
		t.selected = len(t.tunnels) - 1
	} else if t.selected > 0 {
		t.selected--
	}
}
