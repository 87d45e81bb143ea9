package tui

import (
	"context"
	"strings"
	"time"

	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"
)

// Slash command constants.
const (
	cmdHelp   = "/help"
	cmdUpload = "/upload"
	cmdClear  = "/clear"
	cmdUndo   = "/undo"
	cmdExit   = "/exit"
	cmdQuit   = "/quit"
)

// keyMap holds key bindings for help bar display.
type keyMap struct {
	Submit     key.Binding
	NewLine    key.Binding
	History    key.Binding
	Cancel     key.Binding
	Quit       key.Binding
	ScrollUp   key.Binding
	ScrollDown key.Binding
	EscCancel  key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Submit:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		NewLine:    key.NewBinding(key.WithKeys("shift+enter"), key.WithHelp("s+enter", "newline")),
		History:    key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "history")),
		Cancel:     key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "stop")),
		Quit:       key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "exit")),
		ScrollUp:   key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "scroll up")),
		ScrollDown: key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "scroll down")),
		EscCancel:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "stop")),
	}
}

//nolint:gocyclo // Keyboard handler requires branching for all key combinations
func (t *TUI) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	k := msg.Key()

	// Check for Ctrl modifier
	if k.Mod&tea.ModCtrl != 0 {
		switch k.Code {
		case 'c':
			return t.handleCtrlC()
		case 'd':
			cmd := t.cleanup()
			return t, cmd
		}
	}

	// Check special keys
	switch k.Code {
	case tea.KeyEnter:
		if t.state == StateInput {
			// Enter without Shift = submit
			// Shift+Enter = newline (pass through to textarea)
			if k.Mod&tea.ModShift == 0 {
				return t.handleSubmit()
			}
		}

	case tea.KeyUp:
		// Up at first line navigates history, otherwise pass to textarea
		if t.state == StateInput && t.input.Line() == 0 {
			return t.navigateHistory(-1)
		}

	case tea.KeyDown:
		// Down at last line navigates history, otherwise pass to textarea
		if t.state == StateInput && t.input.Line() == t.input.LineCount()-1 {
			return t.navigateHistory(1)
		}

	case tea.KeyEscape:
		if t.state == StateStreaming {
			t.notice = "Stopping..."
			return t, t.stopCmd()
		}

	case tea.KeyPgUp:
		t.viewport.PageUp()
		return t, nil

	case tea.KeyPgDown:
		t.viewport.PageDown()
		return t, nil
	}

	// Pass keys to textarea for typing - users can prepare the next task
	// while the agent is still working
	var cmd tea.Cmd
	t.input, cmd = t.input.Update(msg)
	return t, cmd
}

func (t *TUI) handleCtrlC() (tea.Model, tea.Cmd) {
	now := time.Now()

	// Double Ctrl+C within 1 second = quit
	if now.Sub(t.lastCtrlC) < time.Second {
		cmd := t.cleanup()
		return t, cmd
	}
	t.lastCtrlC = now

	switch t.state {
	case StateInput:
		t.input.Reset()
		t.notice = ""
		return t, nil

	case StateStreaming:
		t.notice = "Stopping..."
		return t, t.stopCmd()
	}

	return t, nil
}

func (t *TUI) handleSubmit() (tea.Model, tea.Cmd) {
	task := strings.TrimSpace(t.input.Value())
	if task == "" {
		return t, nil
	}

	// Handle slash commands
	if strings.HasPrefix(task, "/") {
		return t.handleSlashCommand(task)
	}

	// Add to history (enforce maxHistory cap)
	t.history = append(t.history, task)
	if len(t.history) > maxHistory {
		// Remove oldest entries to stay within bounds
		t.history = t.history[len(t.history)-maxHistory:]
	}
	t.historyIdx = len(t.history)

	// Clear input and any stale notice
	t.input.Reset()
	t.notice = ""

	// The controller owns the cycle from here: it appends the user message,
	// flips the session state, and streams events back through the bridge.
	ctrl := t.ctrl
	ctx := t.ctx
	return t, func() tea.Msg {
		return submitDoneMsg{err: ctrl.Submit(ctx, task)}
	}
}

func (t *TUI) handleSlashCommand(line string) (tea.Model, tea.Cmd) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case cmdHelp:
		t.notice = "Commands: " + cmdUpload + " <path>, " + cmdClear + ", " + cmdUndo + ", " + cmdExit +
			" | Enter: send, Esc: stop, Ctrl+D: exit, Up/Down: history, PgUp/PgDn: scroll"

	case cmdUpload:
		if arg == "" {
			t.notice = "Usage: " + cmdUpload + " <path>"
			break
		}
		t.input.Reset()
		return t, t.runAction("upload", func(ctx context.Context) error {
			_, err := t.ctrl.Upload(ctx, arg)
			return err
		})

	case cmdClear:
		t.input.Reset()
		return t, t.runAction("clear", t.ctrl.Clear)

	case cmdUndo:
		t.input.Reset()
		return t, t.runAction("undo", t.ctrl.Undo)

	case cmdExit, cmdQuit:
		cleanupCmd := t.cleanup()
		return t, cleanupCmd

	default:
		t.notice = "Unknown command: " + cmd
	}

	t.input.Reset()
	return t, nil
}

// runAction executes a controller call off the Update loop.
func (t *TUI) runAction(name string, fn func(context.Context) error) tea.Cmd {
	ctx := t.ctx
	return func() tea.Msg {
		return actionDoneMsg{action: name, err: fn(ctx)}
	}
}

// stopCmd cancels the in-flight cycle off the Update loop. The session
// flips back to idle immediately; the server stop call is best effort.
func (t *TUI) stopCmd() tea.Cmd {
	ctrl := t.ctrl
	return func() tea.Msg {
		ctrl.Cancel()
		return actionDoneMsg{action: "stop"}
	}
}

func (t *TUI) navigateHistory(delta int) (tea.Model, tea.Cmd) {
	if len(t.history) == 0 {
		return t, nil
	}

	t.historyIdx += delta

	if t.historyIdx < 0 {
		t.historyIdx = 0
	}
	if t.historyIdx > len(t.history) {
		t.historyIdx = len(t.history)
	}

	if t.historyIdx == len(t.history) {
		t.input.SetValue("")
	} else {
		t.input.SetValue(t.history[t.historyIdx])
		// Move cursor to end of text
		t.input.CursorEnd()
	}

	return t, nil
}

// cleanup cancels all in-flight work and returns the quit command.
func (t *TUI) cleanup() tea.Cmd {
	// Cancel the main context first - this unblocks every goroutine
	// holding t.ctx, including an active stream consume loop
	if t.ctxCancel != nil {
		t.ctxCancel()
		t.ctxCancel = nil
	}

	return tea.Quit
}
