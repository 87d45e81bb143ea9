package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/sightline/sightline/internal/client"
	"github.com/sightline/sightline/internal/config"
	"github.com/sightline/sightline/internal/log"
	"github.com/sightline/sightline/internal/session"
	"github.com/sightline/sightline/internal/transcript"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingRenderer captures every rendering callback for assertions.
type recordingRenderer struct {
	mu            sync.Mutex
	states        []bool
	transcripts   int
	resultImages  []string
	uploadImages  []string
	warnings      []bool
}

func (r *recordingRenderer) SessionStateChanged(generating bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, generating)
}

func (r *recordingRenderer) TranscriptChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts++
}

func (r *recordingRenderer) ResultImage(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resultImages = append(r.resultImages, path)
}

func (r *recordingRenderer) UploadPreview(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploadImages = append(r.uploadImages, path)
}

func (r *recordingRenderer) ControlWarning(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, active)
}

func (r *recordingRenderer) lastResultImage() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.resultImages) == 0 {
		return "", false
	}
	return r.resultImages[len(r.resultImages)-1], true
}

// fakeAPI scripts the server boundary.
type fakeAPI struct {
	mu sync.Mutex

	workflowBody io.ReadCloser
	workflowErr  error
	predictBody  io.ReadCloser
	predictErr   error

	uploadResult client.UploadResult
	uploadErr    error
	clearErr     error
	undoHistory  []client.Exchange

	lastWorkflow client.WorkflowRequest
	lastPredict  client.PredictRequest
	stopCalls    int
	clearCalls   int
	cleared      []string
}

func (f *fakeAPI) Upload(_ context.Context, _ string) (client.UploadResult, error) {
	return f.uploadResult, f.uploadErr
}

func (f *fakeAPI) Workflow(_ context.Context, req client.WorkflowRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastWorkflow = req
	if f.workflowErr != nil {
		return nil, f.workflowErr
	}
	return f.workflowBody, nil
}

func (f *fakeAPI) Predict(_ context.Context, req client.PredictRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPredict = req
	if f.predictErr != nil {
		return nil, f.predictErr
	}
	return f.predictBody, nil
}

func (f *fakeAPI) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeAPI) Clear(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	f.cleared = append(f.cleared, sessionID)
	return f.clearErr
}

func (f *fakeAPI) Undo(context.Context, string) ([]client.Exchange, error) {
	return f.undoHistory, nil
}

func (f *fakeAPI) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

// chunkBody serves scripted fragments one per Read call, then EOF.
type chunkBody struct {
	mu     sync.Mutex
	chunks [][]byte
	closed bool
}

func newChunkBody(fragments ...string) *chunkBody {
	b := &chunkBody{}
	for _, f := range fragments {
		b.chunks = append(b.chunks, []byte(f))
	}
	return b
}

func (b *chunkBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) == 0 || b.closed {
		return 0, io.EOF
	}
	chunk := b.chunks[0]
	b.chunks = b.chunks[1:]
	n := copy(p, chunk)
	return n, nil
}

func (b *chunkBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// gatedBody serves its first fragment, then blocks until released, then
// serves the rest. Models a server that keeps producing after cancel.
type gatedBody struct {
	first   string
	rest    []string
	gate    chan struct{}
	served  bool
	mu      sync.Mutex
}

func newGatedBody(first string, rest ...string) *gatedBody {
	return &gatedBody{first: first, rest: rest, gate: make(chan struct{})}
}

func (b *gatedBody) release() { close(b.gate) }

func (b *gatedBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	if !b.served {
		b.served = true
		b.mu.Unlock()
		return copy(p, b.first), nil
	}
	b.mu.Unlock()

	<-b.gate

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.rest) == 0 {
		return 0, io.EOF
	}
	chunk := b.rest[0]
	b.rest = b.rest[1:]
	return copy(p, []byte(chunk)), nil
}

func (b *gatedBody) Close() error { return nil }

func event(format string, args ...any) string {
	return "data: " + fmt.Sprintf(format, args...) + "\n\n"
}

type fixture struct {
	api        *fakeAPI
	sess       *session.Session
	store      *transcript.Store
	renderer   *recordingRenderer
	controller *Controller
}

func newFixture(t *testing.T, opts Options, api *fakeAPI) *fixture {
	t.Helper()

	renderer := &recordingRenderer{}
	sess := session.New(renderer.SessionStateChanged)
	store := transcript.NewStore()

	ctrl, err := New(opts, api, sess, store, renderer, log.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{api: api, sess: sess, store: store, renderer: renderer, controller: ctrl}
}

func workflowOpts() Options {
	return Options{Mode: config.ModeWorkflow, StreamTimeout: 5 * time.Second}
}

func predictOpts() Options {
	return Options{Mode: config.ModePredict, MaxLength: 1024, StreamTimeout: 5 * time.Second}
}

func roles(msgs []transcript.Message) []transcript.Role {
	out := make([]transcript.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestSubmit_EmptyTaskRejectedBeforeRequest(t *testing.T) {
	f := newFixture(t, workflowOpts(), &fakeAPI{})

	err := f.controller.Submit(context.Background(), "   ")
	if !errors.Is(err, ErrEmptyTask) {
		t.Fatalf("Submit() = %v, want ErrEmptyTask", err)
	}
	if f.store.Len() != 0 {
		t.Error("transcript must be unchanged by a validation failure")
	}
	if f.sess.Generating() {
		t.Error("validation failure must not start a cycle")
	}
}

func TestSubmit_PredictWithoutImageRejected(t *testing.T) {
	api := &fakeAPI{}
	f := newFixture(t, predictOpts(), api)

	err := f.controller.Submit(context.Background(), "find the button")
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("Submit() = %v, want ErrNoImage", err)
	}
	if f.store.Len() != 0 {
		t.Error("transcript must be unchanged")
	}
	if api.lastPredict.Task != "" {
		t.Error("no request may be issued on validation failure")
	}
}

func TestSubmit_RejectedWhileGenerating(t *testing.T) {
	f := newFixture(t, workflowOpts(), &fakeAPI{})

	if err := f.sess.StartCycle(); err != nil {
		t.Fatal(err)
	}
	defer f.sess.EndCycle()

	err := f.controller.Submit(context.Background(), "task")
	if !errors.Is(err, session.ErrAlreadyGenerating) {
		t.Fatalf("Submit() = %v, want ErrAlreadyGenerating", err)
	}
}

// A round event split across fragment boundaries decodes to exactly one
// round message.
func TestSubmit_RoundEventAcrossFragments(t *testing.T) {
	api := &fakeAPI{
		workflowBody: newChunkBody(
			"data: {\"typ",
			"e\":\"round\",\"round\":1}\n",
			event(`{"type":"done"}`),
		),
	}
	f := newFixture(t, workflowOpts(), api)

	if err := f.controller.Submit(context.Background(), "find the button"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	msgs := f.store.Messages()
	// user message + round message (placeholder removed once streaming).
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", roles(msgs))
	}
	if msgs[1].Role != transcript.RoleRound || msgs[1].Text != "Round 1" {
		t.Errorf("round message = %+v", msgs[1])
	}
	if f.sess.Generating() {
		t.Error("generating must be false after done")
	}
}

func TestSubmit_WholeMessageDelivery(t *testing.T) {
	api := &fakeAPI{
		workflowBody: newChunkBody(
			event(`{"type":"round","round":1}`),
			event(`{"type":"response","content":"I clicked the start menu."}`),
			event(`{"type":"image","path":"/caches/round_1.png"}`),
			event(`{"type":"done"}`),
		),
	}
	f := newFixture(t, workflowOpts(), api)

	if err := f.controller.Submit(context.Background(), "open the start menu"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	msgs := f.store.Messages()
	want := []transcript.Role{transcript.RoleUser, transcript.RoleRound, transcript.RoleAssistant}
	got := roles(msgs)
	if len(got) != len(want) {
		t.Fatalf("roles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("roles = %v, want %v", got, want)
		}
	}
	if msgs[2].Text != "I clicked the start menu." {
		t.Errorf("assistant text = %q", msgs[2].Text)
	}
	if img, ok := f.renderer.lastResultImage(); !ok || img != "/caches/round_1.png" {
		t.Errorf("result image = %q, %v", img, ok)
	}
}

func TestSubmit_IncrementalDelivery(t *testing.T) {
	api := &fakeAPI{
		predictBody: newChunkBody(
			event(`{"type":"token","content":"Hel"}`),
			event(`{"type":"token","content":"lo"}`),
			event(`{"type":"done"}`),
		),
	}
	f := newFixture(t, predictOpts(), api)
	f.sess.SetImage("/srv/uploads/shot.png")

	if err := f.controller.Submit(context.Background(), "describe the screen"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	msgs := f.store.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", roles(msgs))
	}
	if msgs[1].Role != transcript.RoleAssistant || msgs[1].Text != "Hello" {
		t.Errorf("placeholder = %+v, want assistant %q", msgs[1], "Hello")
	}
	if f.sess.Generating() {
		t.Error("generating must be false after done")
	}

	if api.lastPredict.ImgPath != "/srv/uploads/shot.png" || api.lastPredict.MaxLength != 1024 {
		t.Errorf("predict request = %+v", api.lastPredict)
	}
}

func TestSubmit_ErrorEventTerminal(t *testing.T) {
	api := &fakeAPI{
		workflowBody: newChunkBody(
			event(`{"type":"error","message":"model unavailable"}`),
			event(`{"type":"response","content":"after terminal"}`),
		),
	}
	f := newFixture(t, workflowOpts(), api)

	if err := f.controller.Submit(context.Background(), "task"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	msgs := f.store.Messages()
	last := msgs[len(msgs)-1]
	if last.Role != transcript.RoleError || last.Text != "model unavailable" {
		t.Errorf("last message = %+v", last)
	}
	for _, m := range msgs {
		if m.Text == "after terminal" {
			t.Error("events after a terminal event must not be applied")
		}
	}
	if f.sess.Generating() {
		t.Error("generating must be false after error")
	}
}

func TestSubmit_StoppedEvent(t *testing.T) {
	api := &fakeAPI{
		workflowBody: newChunkBody(event(`{"type":"stopped"}`)),
	}
	f := newFixture(t, workflowOpts(), api)

	if err := f.controller.Submit(context.Background(), "task"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	msgs := f.store.Messages()
	last := msgs[len(msgs)-1]
	if last.Role != transcript.RoleStatus || last.Text != "Operation stopped" {
		t.Errorf("last message = %+v", last)
	}
}

func TestSubmit_WarningEventsToggleIndicator(t *testing.T) {
	api := &fakeAPI{
		workflowBody: newChunkBody(
			event(`{"type":"warning_start"}`),
			event(`{"type":"warning_end"}`),
			event(`{"type":"done"}`),
		),
	}
	f := newFixture(t, workflowOpts(), api)

	if err := f.controller.Submit(context.Background(), "task"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	f.renderer.mu.Lock()
	warnings := append([]bool(nil), f.renderer.warnings...)
	f.renderer.mu.Unlock()
	if len(warnings) != 2 || !warnings[0] || warnings[1] {
		t.Errorf("warnings = %v, want [true false]", warnings)
	}
	if f.store.Len() != 1 {
		t.Errorf("warnings must have no transcript effect, got %v", roles(f.store.Messages()))
	}
}

func TestSubmit_MalformedLinesSkipped(t *testing.T) {
	api := &fakeAPI{
		workflowBody: newChunkBody(
			"data: {broken\n",
			"noise without prefix\n",
			event(`{"type":"response","content":"still fine"}`),
			event(`{"type":"done"}`),
		),
	}
	f := newFixture(t, workflowOpts(), api)

	if err := f.controller.Submit(context.Background(), "task"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	msgs := f.store.Messages()
	if msgs[len(msgs)-1].Text != "still fine" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestSubmit_TransportFailureSurfacedAndTerminal(t *testing.T) {
	api := &fakeAPI{workflowErr: errors.New("connection refused")}
	f := newFixture(t, workflowOpts(), api)

	err := f.controller.Submit(context.Background(), "task")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("Submit() = %v, want transport error", err)
	}

	msgs := f.store.Messages()
	last := msgs[len(msgs)-1]
	if last.Role != transcript.RoleError {
		t.Errorf("last message = %+v, want error role", last)
	}
	if f.sess.Generating() {
		t.Error("generating must be false after transport failure")
	}
	if f.controller.State() != StateIdle {
		t.Error("controller must return to Idle")
	}
}

func TestSubmit_ConnectionCloseWithoutTerminalEventEndsQuietly(t *testing.T) {
	api := &fakeAPI{
		workflowBody: newChunkBody(event(`{"type":"response","content":"partial"}`)),
	}
	f := newFixture(t, workflowOpts(), api)

	if err := f.controller.Submit(context.Background(), "task"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if f.sess.Generating() {
		t.Error("generating must be false after stream end")
	}
}

func TestCancel_ImmediateAndLateEventsIgnored(t *testing.T) {
	body := newGatedBody(
		event(`{"type":"token","content":"Hel"}`),
		event(`{"type":"token","content":"lo"}`),
		event(`{"type":"done"}`),
	)
	api := &fakeAPI{predictBody: body}
	f := newFixture(t, predictOpts(), api)
	f.sess.SetImage("/srv/uploads/shot.png")

	done := make(chan error, 1)
	go func() {
		done <- f.controller.Submit(context.Background(), "task")
	}()

	// Wait for the first token to land.
	deadline := time.After(2 * time.Second)
	for {
		msgs := f.store.Messages()
		if len(msgs) == 2 && msgs[1].Text == "Hel" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for first token")
		case <-time.After(5 * time.Millisecond):
		}
	}

	f.controller.Cancel()

	// Re-enabled immediately, without waiting for the body to finish.
	if f.sess.Generating() {
		t.Fatal("generating must be false immediately after Cancel")
	}
	if api.stopCount() != 1 {
		t.Errorf("stop calls = %d, want 1", api.stopCount())
	}

	// Let the server keep producing; those events must not be applied.
	body.release()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Submit() after cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not return after cancel")
	}

	for _, m := range f.store.Messages() {
		if m.Text == "Hello" {
			t.Error("late token applied after cancel")
		}
	}
}

func TestClear_RotatesWhenConfigured(t *testing.T) {
	opts := workflowOpts()
	opts.RotateOnClear = true
	api := &fakeAPI{}
	f := newFixture(t, opts, api)

	f.store.Append(transcript.RoleUser, "old")
	before := f.sess.ID()

	if err := f.controller.Clear(context.Background()); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	if !f.store.Empty() {
		t.Error("transcript must be empty after clear")
	}
	if f.sess.ID() == before {
		t.Error("session id must rotate on clear")
	}
	if len(api.cleared) != 1 || api.cleared[0] != before {
		t.Errorf("server clear called with %v, want old id %q", api.cleared, before)
	}
	if img, ok := f.renderer.lastResultImage(); !ok || img != "" {
		t.Error("result image must be reset on clear")
	}
}

func TestClear_KeepsIDWhenNotConfigured(t *testing.T) {
	f := newFixture(t, predictOpts(), &fakeAPI{})
	before := f.sess.ID()

	if err := f.controller.Clear(context.Background()); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if f.sess.ID() != before {
		t.Error("session id must not rotate in predict mode by default")
	}
}

func TestClear_ServerFailureLeavesTranscript(t *testing.T) {
	api := &fakeAPI{clearErr: errors.New("boom")}
	f := newFixture(t, workflowOpts(), api)
	f.store.Append(transcript.RoleUser, "kept")

	if err := f.controller.Clear(context.Background()); err == nil {
		t.Fatal("Clear() should propagate the server failure")
	}
	if f.store.Empty() {
		t.Error("transcript must be kept when the server clear fails")
	}
}

func TestUpload_RecordsImageAndPreview(t *testing.T) {
	api := &fakeAPI{
		uploadResult: client.UploadResult{
			Path:     "/srv/uploads/abc_screen.png",
			Filename: "abc_screen.png",
		},
	}
	f := newFixture(t, predictOpts(), api)

	result, err := f.controller.Upload(context.Background(), "screen.png")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if result.Path != "/srv/uploads/abc_screen.png" {
		t.Errorf("result = %+v", result)
	}
	if f.sess.ImagePath() != "/srv/uploads/abc_screen.png" {
		t.Errorf("session image = %q", f.sess.ImagePath())
	}

	f.renderer.mu.Lock()
	uploads := append([]string(nil), f.renderer.uploadImages...)
	f.renderer.mu.Unlock()
	if len(uploads) != 1 || uploads[0] != "/uploads/abc_screen.png" {
		t.Errorf("upload previews = %v", uploads)
	}
}

func TestUpload_FailureLeavesSessionUntouched(t *testing.T) {
	api := &fakeAPI{uploadErr: errors.New("Invalid file type")}
	f := newFixture(t, predictOpts(), api)

	if _, err := f.controller.Upload(context.Background(), "screen.png"); err == nil {
		t.Fatal("Upload() should propagate the failure")
	}
	if f.sess.ImagePath() != "" {
		t.Error("failed upload must not set the image reference")
	}
}

func TestUndo_RebuildsTranscriptFromHistory(t *testing.T) {
	api := &fakeAPI{
		undoHistory: []client.Exchange{
			{Task: "click start", Response: "clicked"},
			{Task: "open settings", Response: ""},
		},
	}
	f := newFixture(t, predictOpts(), api)
	f.store.Append(transcript.RoleUser, "stale")

	if err := f.controller.Undo(context.Background()); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}

	got := roles(f.store.Messages())
	want := []transcript.Role{transcript.RoleUser, transcript.RoleAssistant, transcript.RoleUser}
	if len(got) != len(want) {
		t.Fatalf("roles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("roles = %v, want %v", got, want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	sess := session.New(nil)
	store := transcript.NewStore()
	renderer := &recordingRenderer{}

	if _, err := New(workflowOpts(), nil, sess, store, renderer, log.NewNop()); err == nil {
		t.Error("nil api must be rejected")
	}
	if _, err := New(Options{Mode: "batch"}, &fakeAPI{}, sess, store, renderer, log.NewNop()); err == nil {
		t.Error("unknown mode must be rejected")
	}
	if _, err := New(workflowOpts(), &fakeAPI{}, sess, store, nil, log.NewNop()); err == nil {
		t.Error("nil renderer must be rejected")
	}
}
