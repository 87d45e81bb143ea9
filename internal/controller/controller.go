// Package controller orchestrates request cycles against the agent server:
// it issues the request, runs the framer/decoder pipeline over the chunked
// body, applies each event to the session and the transcript, and exposes
// cooperative cancellation.
//
// One cycle runs at a time per session; a submission while a cycle is in
// flight is rejected, never queued.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sightline/sightline/internal/client"
	"github.com/sightline/sightline/internal/config"
	"github.com/sightline/sightline/internal/log"
	"github.com/sightline/sightline/internal/session"
	"github.com/sightline/sightline/internal/stream"
	"github.com/sightline/sightline/internal/transcript"
)

// waitingMessage is the whole-task-mode placeholder shown until the server
// starts producing.
const waitingMessage = "Please wait for the agent's operation..."

// readBufferSize is the chunk size for draining the response body. Lines
// are typically short; fragments may still split them anywhere.
const readBufferSize = 4096

// CycleState names the controller's position in one request cycle.
type CycleState int

// Cycle states. Terminal states report and immediately return to Idle.
const (
	StateIdle CycleState = iota
	StateRequesting
	StateStreaming
)

// Renderer is the abstract rendering boundary. The controller never touches
// display state directly; it reports changes and the rendering layer queries
// the transcript store on demand.
type Renderer interface {
	// SessionStateChanged reports the generation flag: submit is enabled
	// iff !generating, stop iff generating.
	SessionStateChanged(generating bool)

	// TranscriptChanged reports that the message store was mutated.
	TranscriptChanged()

	// ResultImage reports a new result image reference, or "" on reset.
	// A load failure of the reference is the renderer's concern and must
	// not fail the cycle.
	ResultImage(path string)

	// UploadPreview reports a new uploaded-image preview reference, or ""
	// on reset.
	UploadPreview(path string)

	// ControlWarning toggles the "agent is controlling input devices"
	// indicator.
	ControlWarning(active bool)
}

// API is the server boundary the controller drives.
type API interface {
	Upload(ctx context.Context, path string) (client.UploadResult, error)
	Workflow(ctx context.Context, req client.WorkflowRequest) (io.ReadCloser, error)
	Predict(ctx context.Context, req client.PredictRequest) (io.ReadCloser, error)
	Stop(ctx context.Context) error
	Clear(ctx context.Context, sessionID string) error
	Undo(ctx context.Context, sessionID string) ([]client.Exchange, error)
}

// Compile-time interface verification.
var _ API = (*client.Client)(nil)

// Options configure a Controller.
type Options struct {
	// Mode selects the delivery style: config.ModeWorkflow or
	// config.ModePredict.
	Mode string

	// MaxLength is the generation bound sent with predict requests.
	MaxLength int

	// RotateOnClear rotates the session id after a successful clear.
	RotateOnClear bool

	// StreamTimeout bounds one full request cycle.
	StreamTimeout time.Duration
}

// Controller owns one session's request cycles.
type Controller struct {
	opts       Options
	api        API
	session    *session.Session
	transcript *transcript.Store
	renderer   Renderer
	logger     log.Logger

	mu       sync.Mutex
	state    CycleState
	cancel   context.CancelFunc
	terminal bool // current cycle saw a terminal event or was cancelled
}

// New creates a Controller. All dependencies are required.
func New(opts Options, api API, sess *session.Session, store *transcript.Store, renderer Renderer, logger log.Logger) (*Controller, error) {
	if api == nil {
		return nil, errors.New("controller.New: api is required")
	}
	if sess == nil {
		return nil, errors.New("controller.New: session is required")
	}
	if store == nil {
		return nil, errors.New("controller.New: transcript store is required")
	}
	if renderer == nil {
		return nil, errors.New("controller.New: renderer is required")
	}
	if opts.Mode != config.ModeWorkflow && opts.Mode != config.ModePredict {
		return nil, fmt.Errorf("controller.New: unknown mode %q", opts.Mode)
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = config.DefaultStreamTimeout
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = config.DefaultMaxLength
	}
	return &Controller{
		opts:       opts,
		api:        api,
		session:    sess,
		transcript: store,
		renderer:   renderer,
		logger:     logger,
	}, nil
}

// State returns the current cycle state.
func (c *Controller) State() CycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit runs one complete request cycle: validation, request, event
// application, terminal cleanup. It blocks until the cycle reaches a
// terminal state and is safe to run on its own goroutine.
//
// Validation failures (ErrEmptyTask, ErrNoImage) and a rejected concurrent
// submission (session.ErrAlreadyGenerating) are returned before any request
// is issued or state is mutated. Failures after that point are surfaced in
// the transcript as error-role messages and also returned.
func (c *Controller) Submit(ctx context.Context, task string) error {
	task = strings.TrimSpace(task)
	if task == "" {
		return ErrEmptyTask
	}
	if c.opts.Mode == config.ModePredict && c.session.ImagePath() == "" {
		return ErrNoImage
	}

	if err := c.session.StartCycle(); err != nil {
		return err
	}
	defer c.session.EndCycle()

	ctx, cancel := context.WithTimeout(ctx, c.opts.StreamTimeout)
	defer cancel()

	c.beginCycle(cancel)
	defer c.resetCycle()

	c.transcript.Append(transcript.RoleUser, task)

	var placeholder transcript.MessageID
	if c.opts.Mode == config.ModeWorkflow {
		placeholder = c.transcript.Append(transcript.RoleAssistant, waitingMessage)
	} else {
		placeholder = c.transcript.Append(transcript.RoleAssistant, "")
	}
	c.renderer.TranscriptChanged()

	body, err := c.request(ctx, task)
	if err != nil {
		return c.failCycle(placeholder, err)
	}
	defer body.Close()

	c.setState(StateStreaming)

	// The whole-task server announces progress with its own messages; the
	// waiting placeholder goes away once the stream is established.
	if c.opts.Mode == config.ModeWorkflow {
		c.transcript.Remove(placeholder)
		c.renderer.TranscriptChanged()
	}

	if err := c.consume(ctx, body, placeholder); err != nil {
		return c.failCycle(placeholder, err)
	}
	return nil
}

// request issues the mode-appropriate work submission.
func (c *Controller) request(ctx context.Context, task string) (io.ReadCloser, error) {
	if c.opts.Mode == config.ModeWorkflow {
		return c.api.Workflow(ctx, client.WorkflowRequest{
			SessionID: c.session.ID(),
			Task:      task,
		})
	}
	return c.api.Predict(ctx, client.PredictRequest{
		SessionID: c.session.ID(),
		Task:      task,
		ImgPath:   c.session.ImagePath(),
		MaxLength: c.opts.MaxLength,
	})
}

// consume drains the body through the framer/decoder pipeline, applying
// events strictly in arrival order. It returns nil once a terminal event is
// applied or the stream ends; the body is abandoned (closed by the caller)
// as soon as the cycle is terminal.
func (c *Controller) consume(ctx context.Context, body io.Reader, placeholder transcript.MessageID) error {
	framer := stream.NewFramer()
	decoder := stream.NewDecoder(c.logger)
	buf := make([]byte, readBufferSize)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, line := range framer.Push(buf[:n]) {
				event, ok := decoder.DecodeLine(line)
				if !ok {
					continue
				}
				if c.cycleTerminated() {
					// Late bytes after cancel or a terminal event are
					// not applied.
					return nil
				}
				c.apply(event, placeholder)
				if event.Kind.Terminal() {
					c.markTerminal()
					return nil
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) || c.cycleTerminated() {
				// Connection close without a terminal event ends the
				// cycle quietly, matching the whole-task server, which
				// terminates by closing the connection.
				return nil
			}
			return fmt.Errorf("read stream: %w", readErr)
		}

		select {
		case <-ctx.Done():
			if c.cycleTerminated() {
				return nil
			}
			return fmt.Errorf("stream interrupted: %w", ctx.Err())
		default:
		}
	}
}

// apply dispatches one decoded event per the application policy.
func (c *Controller) apply(event stream.Event, placeholder transcript.MessageID) {
	switch event.Kind {
	case stream.KindRound:
		c.transcript.Append(transcript.RoleRound, fmt.Sprintf("Round %d", event.Round))
		c.renderer.TranscriptChanged()

	case stream.KindResponse:
		c.transcript.Append(transcript.RoleAssistant, event.Text)
		c.renderer.TranscriptChanged()

	case stream.KindToken:
		c.transcript.AppendText(placeholder, event.Text)
		c.renderer.TranscriptChanged()

	case stream.KindImage:
		c.logger.Info("result image", "path", event.Path)
		c.renderer.ResultImage(event.Path)

	case stream.KindDone:
		// Terminal: success. Nothing to record.

	case stream.KindStopped:
		c.transcript.Append(transcript.RoleStatus, "Operation stopped")
		c.renderer.TranscriptChanged()

	case stream.KindError:
		c.transcript.Append(transcript.RoleError, event.Message)
		c.renderer.TranscriptChanged()

	case stream.KindWarningStart:
		c.renderer.ControlWarning(true)

	case stream.KindWarningEnd:
		c.renderer.ControlWarning(false)
	}
}

// failCycle surfaces a transport failure: the empty placeholder is removed,
// an error-role message is appended, and the error is returned. Cancellation
// is not a failure; the cycle just ends.
func (c *Controller) failCycle(placeholder transcript.MessageID, err error) error {
	if errors.Is(err, context.Canceled) || c.cycleTerminated() {
		c.removeEmptyPlaceholder(placeholder)
		c.renderer.TranscriptChanged()
		return nil
	}

	c.removeEmptyPlaceholder(placeholder)
	c.transcript.Append(transcript.RoleError, fmt.Sprintf("Execution error: %v", err))
	c.renderer.TranscriptChanged()
	c.logger.Error("request cycle failed", "error", err)
	return err
}

// removeEmptyPlaceholder drops the bot placeholder if it never received
// text. A placeholder with partial output stays visible.
func (c *Controller) removeEmptyPlaceholder(placeholder transcript.MessageID) {
	msg, ok := c.transcript.Get(placeholder)
	if ok && (msg.Text == "" || msg.Text == waitingMessage) {
		c.transcript.Remove(placeholder)
	}
}

// Cancel requests a best-effort server-side stop and immediately marks the
// cycle terminal client-side. Submission is re-enabled without waiting for
// acknowledgement; late bytes from the cancelled cycle are not applied.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.terminal = true
	c.mu.Unlock()

	c.session.EndCycle()
	if cancel != nil {
		cancel()
	}

	// Best effort; the UI is already re-enabled, so the server's answer
	// only matters for logging.
	if err := c.api.Stop(context.Background()); err != nil {
		c.logger.Warn("stop request failed", "error", err)
	}
}

// Clear drops the server-side history, empties the transcript, resets the
// result image, and - when configured - rotates the session id.
func (c *Controller) Clear(ctx context.Context) error {
	if err := c.api.Clear(ctx, c.session.ID()); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	c.transcript.Clear()
	c.renderer.TranscriptChanged()
	c.renderer.ResultImage("")

	if c.opts.RotateOnClear {
		c.session.RotateID()
	}
	return nil
}

// Upload sends the file to the server and records the returned path as the
// active image reference.
func (c *Controller) Upload(ctx context.Context, path string) (client.UploadResult, error) {
	result, err := c.api.Upload(ctx, path)
	if err != nil {
		return client.UploadResult{}, err
	}

	c.session.SetImage(result.Path)
	c.renderer.UploadPreview("/uploads/" + result.Filename)
	return result, nil
}

// Undo removes the last task/response exchange server-side and rebuilds the
// transcript from the remaining history.
func (c *Controller) Undo(ctx context.Context) error {
	history, err := c.api.Undo(ctx, c.session.ID())
	if err != nil {
		return fmt.Errorf("undo: %w", err)
	}

	c.transcript.Clear()
	for _, exchange := range history {
		c.transcript.Append(transcript.RoleUser, exchange.Task)
		if exchange.Response != "" {
			c.transcript.Append(transcript.RoleAssistant, exchange.Response)
		}
	}
	c.renderer.TranscriptChanged()
	return nil
}

// beginCycle records the cycle's cancel func and moves to Requesting.
func (c *Controller) beginCycle(cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateRequesting
	c.cancel = cancel
	c.terminal = false
}

// resetCycle returns to Idle after a terminal state was reported.
func (c *Controller) resetCycle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	c.cancel = nil
	c.terminal = true
}

func (c *Controller) setState(s CycleState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Controller) markTerminal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminal = true
}

func (c *Controller) cycleTerminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}
