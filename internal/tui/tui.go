// Package tui provides the Bubble Tea terminal interface for sightline.
// It is the rendering layer behind the controller: the transcript store is
// the source of truth and the viewport is rebuilt from it whenever the
// controller reports a change.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textarea"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/sightline/sightline/internal/config"
	"github.com/sightline/sightline/internal/controller"
	"github.com/sightline/sightline/internal/log"
	"github.com/sightline/sightline/internal/session"
	"github.com/sightline/sightline/internal/transcript"
)

// State represents TUI state machine.
type State int

// TUI state machine states. StateStreaming covers the whole request cycle,
// from submit until the controller reports the session idle again.
const (
	StateInput State = iota // Awaiting user input
	StateStreaming          // Request cycle in flight
)

// maxHistory bounds the command history.
const maxHistory = 100

// Layout constants for viewport height calculation.
const (
	separatorLines = 2 // Two separator lines (above and below input)
	helpLines      = 1 // Help bar height
	promptLines    = 1 // Prompt prefix line
	minViewport    = 3 // Minimum viewport height
)

// TUI is the Bubble Tea model for the sightline terminal interface.
type TUI struct {
	// Input (textarea for multi-line support, Shift+Enter for newline)
	input      textarea.Model
	history    []string
	historyIdx int

	// State
	state     State
	lastCtrlC time.Time
	notice    string // inline hint shown in place of the help bar

	// Display
	spinner  spinner.Model
	viewBuf  strings.Builder // Reusable buffer for View() to reduce allocations
	viewport viewport.Model
	help     help.Model
	keys     keyMap
	styles   Styles
	markdown *markdownRenderer

	// Render state reported by the controller
	resultImage    string
	uploadPreview  string
	controlWarning bool

	// Renderer bridge. The controller publishes from its own goroutines;
	// listenRender pumps events into the Bubble Tea loop one at a time.
	events chan renderEvent

	// Dependencies
	ctrl      *controller.Controller
	sess      *session.Session
	store     *transcript.Store
	logger    log.Logger
	ctx       context.Context
	ctxCancel context.CancelFunc // For canceling all operations on exit

	// Dimensions
	width  int
	height int
}

// New wires a complete TUI: session, transcript store, controller, and the
// bridge between the controller's render callbacks and the Bubble Tea loop.
//
// IMPORTANT: ctx MUST be the same context passed to tea.WithContext()
// to ensure consistent cancellation behavior.
func New(ctx context.Context, cfg *config.Config, api controller.API, logger log.Logger) (*TUI, error) {
	if ctx == nil {
		return nil, errors.New("tui.New: ctx is required")
	}
	if cfg == nil {
		return nil, errors.New("tui.New: config is required")
	}
	if api == nil {
		return nil, errors.New("tui.New: api is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	// Create cancellable context for cleanup on exit
	ctx, cancel := context.WithCancel(ctx)

	t := &TUI{
		state:     StateInput,
		history:   make([]string, 0, maxHistory),
		styles:    DefaultStyles(),
		markdown:  newMarkdownRenderer(80),
		events:    make(chan renderEvent, renderBufferSize),
		logger:    logger,
		ctx:       ctx,
		ctxCancel: cancel,
		width:     80, // Default width until WindowSizeMsg arrives
	}

	t.store = transcript.NewStore()
	t.sess = session.New(func(generating bool) {
		t.send(renderEvent{kind: eventSessionState, generating: generating})
	})

	ctrl, err := controller.New(controller.Options{
		Mode:          cfg.Mode,
		MaxLength:     cfg.Predict.MaxLength,
		RotateOnClear: cfg.Clear.RotateSession,
		StreamTimeout: cfg.Server.StreamTimeout,
	}, api, t.sess, t.store, (*bridgeRenderer)(t), logger)
	if err != nil {
		cancel()
		return nil, err
	}
	t.ctrl = ctrl

	// Create textarea for multi-line input
	// Enter submits, Shift+Enter adds newline (default behavior)
	ta := textarea.New()
	ta.Placeholder = "Describe a task..."
	ta.SetHeight(1)  // Single line by default
	ta.SetWidth(120) // Wide enough for long text, updated on WindowSizeMsg
	ta.MaxWidth = 0  // No max width limit
	ta.ShowLineNumbers = false

	// Clean, minimal styling: no background colors, just simple text
	cleanStyle := textarea.StyleState{
		Base:        lipgloss.NewStyle(),
		Text:        lipgloss.NewStyle(),
		Placeholder: lipgloss.NewStyle().Foreground(lipgloss.Color("240")), // Gray placeholder
		Prompt:      lipgloss.NewStyle(),
	}
	ta.SetStyles(textarea.Styles{
		Focused: cleanStyle,
		Blurred: cleanStyle,
	})
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	// Create viewport for scrollable transcript history.
	// Disable built-in keyboard handling — keys are routed explicitly
	// in handleKey to avoid conflicts with textarea/history navigation.
	vp := viewport.New(viewport.WithWidth(80), viewport.WithHeight(20))
	vp.MouseWheelEnabled = true
	vp.SoftWrap = true
	vp.KeyMap = viewport.KeyMap{} // Disable default key bindings

	t.input = ta
	t.spinner = sp
	t.viewport = vp
	t.help = help.New()
	t.keys = newKeyMap()

	return t, nil
}

// Controller exposes the wired controller for the command layer and tests.
func (t *TUI) Controller() *controller.Controller {
	return t.ctrl
}

// Init implements tea.Model.
func (t *TUI) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		t.spinner.Tick,
		t.input.Focus(), // Ensure textarea is focused on startup
		listenRender(t.events),
	)
}

// submitDoneMsg reports the outcome of a task submission.
type submitDoneMsg struct {
	err error
}

// actionDoneMsg reports the outcome of a slash-command controller call.
type actionDoneMsg struct {
	action string
	err    error
}

// Update implements tea.Model.
func (t *TUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		return t.handleKey(msg)

	case tea.WindowSizeMsg:
		t.width = msg.Width
		t.height = msg.Height

		// Calculate viewport height: total - input - separators - help
		inputHeight := t.input.Height() + promptLines
		fixedHeight := separatorLines + inputHeight + helpLines
		vpHeight := max(msg.Height-fixedHeight, minViewport)

		t.viewport.SetWidth(msg.Width)
		t.viewport.SetHeight(vpHeight)
		t.input.SetWidth(msg.Width - 4) // Room for "> " prompt
		t.help.SetWidth(msg.Width)
		t.markdown.UpdateWidth(msg.Width)

		// Rebuild viewport content with new dimensions
		t.rebuildViewportContent()
		return t, nil

	case tea.MouseWheelMsg:
		// Forward mouse wheel to viewport for scrolling
		var cmd tea.Cmd
		t.viewport, cmd = t.viewport.Update(msg)
		return t, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		t.spinner, cmd = t.spinner.Update(msg)
		// Rebuild viewport to keep the spinner row animating
		if t.state == StateStreaming {
			t.rebuildViewportContent()
		}
		return t, cmd

	case renderMsg:
		cmd := t.applyRenderEvent(msg.event)
		return t, tea.Batch(cmd, listenRender(t.events))

	case renderClosedMsg:
		return t, nil

	case submitDoneMsg:
		switch {
		case msg.err == nil:
		case errors.Is(msg.err, controller.ErrEmptyTask):
			t.notice = "Enter a task first."
		case errors.Is(msg.err, controller.ErrNoImage):
			t.notice = "Upload an image first: /upload <path>"
		case errors.Is(msg.err, session.ErrAlreadyGenerating):
			t.notice = "A request is already running. Esc to cancel it."
		default:
			// Transport and stream failures are already in the
			// transcript via the controller.
		}
		return t, nil

	case actionDoneMsg:
		if msg.err != nil {
			t.notice = msg.action + " failed: " + msg.err.Error()
		}
		return t, nil
	}

	var cmd tea.Cmd
	t.input, cmd = t.input.Update(msg)
	return t, cmd
}

// applyRenderEvent folds one controller notification into the model.
func (t *TUI) applyRenderEvent(ev renderEvent) tea.Cmd {
	switch ev.kind {
	case eventSessionState:
		if ev.generating {
			t.state = StateStreaming
			t.rebuildViewportContent()
			t.viewport.GotoBottom()
			return t.spinner.Tick
		}
		t.state = StateInput
		if t.notice == "Stopping..." {
			t.notice = ""
		}
		t.rebuildViewportContent()
		t.viewport.GotoBottom()
		// Re-focus textarea after the cycle completes
		return t.input.Focus()

	case eventTranscript:
		t.rebuildViewportContent()
		t.viewport.GotoBottom()

	case eventResultImage:
		t.resultImage = ev.path
		t.rebuildViewportContent()

	case eventUploadPreview:
		t.uploadPreview = ev.path
		t.rebuildViewportContent()

	case eventControlWarning:
		t.controlWarning = ev.active
		t.rebuildViewportContent()
	}
	return nil
}

// View implements tea.Model.
// Uses AltScreen with viewport for scrollable transcript history.
func (t *TUI) View() tea.View {
	t.viewBuf.Reset()

	// Viewport (scrollable transcript area)
	_, _ = t.viewBuf.WriteString(t.viewport.View())
	_, _ = t.viewBuf.WriteString("\n")

	// Separator line above input
	_, _ = t.viewBuf.WriteString(t.renderSeparator())
	_, _ = t.viewBuf.WriteString("\n")

	// Input prompt - always shown; users can type the next task while the
	// agent is still streaming
	_, _ = t.viewBuf.WriteString(t.styles.Prompt.Render("> "))
	_, _ = t.viewBuf.WriteString(t.input.View())
	_, _ = t.viewBuf.WriteString("\n")

	// Separator line below input
	_, _ = t.viewBuf.WriteString(t.renderSeparator())
	_, _ = t.viewBuf.WriteString("\n")

	// Notice or help bar
	_, _ = t.viewBuf.WriteString(t.renderStatusBar())

	v := tea.NewView(t.viewBuf.String())
	v.AltScreen = true
	return v
}

// rebuildViewportContent reconstructs the viewport content from the
// transcript store and render state. Called whenever either changes.
func (t *TUI) rebuildViewportContent() {
	var b strings.Builder

	// Banner and tips
	_, _ = b.WriteString(t.styles.RenderBanner())
	_, _ = b.WriteString("\n")
	_, _ = b.WriteString(t.styles.RenderWelcomeTips())
	_, _ = b.WriteString("\n")

	if t.uploadPreview != "" {
		_, _ = b.WriteString(t.styles.System.Render("Screenshot: " + t.uploadPreview))
		_, _ = b.WriteString("\n\n")
	}

	for _, msg := range t.store.Messages() {
		switch msg.Role {
		case transcript.RoleUser:
			_, _ = b.WriteString(t.styles.User.Render("You> "))
			_, _ = b.WriteString(msg.Text)
		case transcript.RoleAssistant:
			_, _ = b.WriteString(t.styles.Assistant.Render("Agent> "))
			_, _ = b.WriteString(t.markdown.Render(msg.Text))
		case transcript.RoleRound, transcript.RoleStatus:
			_, _ = b.WriteString(t.styles.System.Render(msg.Text))
		case transcript.RoleError:
			_, _ = b.WriteString(t.styles.Error.Render("Error: " + msg.Text))
		}
		_, _ = b.WriteString("\n\n")
	}

	if t.resultImage != "" {
		_, _ = b.WriteString(t.styles.System.Render("Result image: " + t.resultImage))
		_, _ = b.WriteString("\n\n")
	}

	if t.controlWarning {
		_, _ = b.WriteString(t.styles.Warning.Render("⚠ The agent is controlling the interface. Do not interact."))
		_, _ = b.WriteString("\n\n")
	}

	// Working indicator
	if t.state == StateStreaming {
		_, _ = b.WriteString(t.spinner.View())
		_, _ = b.WriteString(" Working...\n\n")
	}

	t.viewport.SetContent(b.String())
}

// renderSeparator returns a horizontal line separator.
func (t *TUI) renderSeparator() string {
	width := t.width
	if width <= 0 {
		width = 80 // Default width
	}
	return t.styles.Separator.Render(strings.Repeat("─", width))
}

// renderStatusBar returns the notice when one is pending, otherwise
// state-appropriate keyboard shortcut help.
func (t *TUI) renderStatusBar() string {
	if t.notice != "" {
		return t.styles.Notice.Render(t.notice)
	}

	var bindings []key.Binding
	switch t.state {
	case StateInput:
		bindings = []key.Binding{
			t.keys.Submit, t.keys.NewLine, t.keys.History,
			t.keys.Cancel, t.keys.Quit, t.keys.ScrollUp,
		}
	case StateStreaming:
		bindings = []key.Binding{
			t.keys.EscCancel, t.keys.Cancel,
			t.keys.ScrollUp, t.keys.ScrollDown,
		}
	}
	return t.help.ShortHelpView(bindings)
}
