package tui

import tea "charm.land/bubbletea/v2"

// renderBufferSize bounds the renderer bridge channel. The controller
// publishes events from its own goroutine; the buffer absorbs bursts
// (token deltas) without stalling the consume loop.
const renderBufferSize = 256

type renderEventKind int

const (
	eventSessionState renderEventKind = iota
	eventTranscript
	eventResultImage
	eventUploadPreview
	eventControlWarning
)

// renderEvent is the union message carried from the controller's render
// callbacks into the Bubble Tea loop.
type renderEvent struct {
	kind       renderEventKind
	generating bool
	path       string
	active     bool
}

// renderMsg wraps a renderEvent as a tea.Msg.
type renderMsg struct {
	event renderEvent
}

// renderClosedMsg signals the bridge channel was closed.
type renderClosedMsg struct{}

// listenRender pumps one renderer event into the program. Update re-issues
// it after every renderMsg, mirroring the one-message-per-listen pattern.
func listenRender(ch <-chan renderEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return renderClosedMsg{}
		}
		return renderMsg{event: ev}
	}
}

// send forwards a renderer event to the Bubble Tea loop. It drops events
// once the TUI context is cancelled so controller goroutines never block
// on a loop that stopped draining.
func (t *TUI) send(ev renderEvent) {
	select {
	case t.events <- ev:
	case <-t.ctx.Done():
	}
}

// bridgeRenderer adapts *TUI to controller.Renderer. The callbacks run on
// controller goroutines, so they only enqueue; all model mutation happens
// in Update.
type bridgeRenderer TUI

func (b *bridgeRenderer) tui() *TUI { return (*TUI)(b) }

func (b *bridgeRenderer) SessionStateChanged(generating bool) {
	b.tui().send(renderEvent{kind: eventSessionState, generating: generating})
}

func (b *bridgeRenderer) TranscriptChanged() {
	b.tui().send(renderEvent{kind: eventTranscript})
}

func (b *bridgeRenderer) ResultImage(path string) {
	b.tui().send(renderEvent{kind: eventResultImage, path: path})
}

func (b *bridgeRenderer) UploadPreview(path string) {
	b.tui().send(renderEvent{kind: eventUploadPreview, path: path})
}

func (b *bridgeRenderer) ControlWarning(active bool) {
	b.tui().send(renderEvent{kind: eventControlWarning, active: active})
}
