package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/sightline/sightline/internal/controller"
	"github.com/sightline/sightline/internal/session"
	"github.com/sightline/sightline/internal/transcript"
)

var flagRunImage string

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run a single task and print the streamed response",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTask,
}

func init() {
	runCmd.Flags().StringVar(&flagRunImage, "image", "", "screenshot to upload before the task")
	rootCmd.AddCommand(runCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	cfg, logger, api, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	renderer := newConsoleRenderer(cmd.OutOrStdout())
	store := transcript.NewStore()
	renderer.store = store
	sess := session.New(renderer.SessionStateChanged)

	ctrl, err := controller.New(controller.Options{
		Mode:          cfg.Mode,
		MaxLength:     cfg.Predict.MaxLength,
		RotateOnClear: cfg.Clear.RotateSession,
		StreamTimeout: cfg.Server.StreamTimeout,
	}, api, sess, store, renderer, logger)
	if err != nil {
		return err
	}

	if flagRunImage != "" {
		uploadCtx, cancel := context.WithTimeout(ctx, unaryTimeout(cfg))
		_, err := ctrl.Upload(uploadCtx, flagRunImage)
		cancel()
		if err != nil {
			return fmt.Errorf("upload %s: %w", flagRunImage, err)
		}
	}

	task := strings.Join(args, " ")
	if err := ctrl.Submit(ctx, task); err != nil {
		return err
	}

	renderer.finish()
	return nil
}

// consoleRenderer prints transcript changes as they happen: new messages
// with a role prefix, then raw suffixes as streamed messages grow.
type consoleRenderer struct {
	out   io.Writer
	store *transcript.Store

	mu      sync.Mutex
	printed map[transcript.MessageID]int // bytes already written per message
	open    bool                         // last write did not end with a newline
}

func newConsoleRenderer(out io.Writer) *consoleRenderer {
	return &consoleRenderer{
		out:     out,
		printed: make(map[transcript.MessageID]int),
	}
}

func (r *consoleRenderer) SessionStateChanged(bool) {}

func (r *consoleRenderer) TranscriptChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msg := range r.store.Messages() {
		n, seen := r.printed[msg.ID]
		if !seen {
			r.breakLine()
			fmt.Fprint(r.out, rolePrefix(msg.Role), msg.Text)
			r.printed[msg.ID] = len(msg.Text)
			r.open = true
			continue
		}
		if len(msg.Text) > n {
			// Streamed growth; print only the new suffix.
			fmt.Fprint(r.out, msg.Text[n:])
			r.printed[msg.ID] = len(msg.Text)
			r.open = true
		}
	}
}

func (r *consoleRenderer) ResultImage(path string) {
	if path == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakLine()
	fmt.Fprintf(r.out, "[image] %s\n", path)
}

func (r *consoleRenderer) UploadPreview(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakLine()
	fmt.Fprintf(r.out, "[screenshot] %s\n", path)
}

func (r *consoleRenderer) ControlWarning(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakLine()
	if active {
		fmt.Fprintln(r.out, "[agent is controlling the interface - do not interact]")
	} else {
		fmt.Fprintln(r.out, "[agent released control]")
	}
}

// finish terminates a dangling output line after the cycle completes.
func (r *consoleRenderer) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakLine()
}

// breakLine closes an unterminated line. Callers hold r.mu.
func (r *consoleRenderer) breakLine() {
	if r.open {
		fmt.Fprintln(r.out)
		r.open = false
	}
}

func rolePrefix(role transcript.Role) string {
	switch role {
	case transcript.RoleUser:
		return "You> "
	case transcript.RoleAssistant:
		return "Agent> "
	case transcript.RoleError:
		return "Error: "
	default:
		return ""
	}
}
