package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sightline/sightline/internal/transcript"
)

func TestRootCommand_Subcommands(t *testing.T) {
	want := []string{"chat", "run", "upload", "stop", "history", "version"}

	for _, name := range want {
		found := false
		for _, sub := range rootCmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestVersionCommand_Output(t *testing.T) {
	originalAppVersion := AppVersion
	AppVersion = "9.9.9-test"
	defer func() { AppVersion = originalAppVersion }()

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)

	versionCmd.Run(versionCmd, nil)

	output := buf.String()
	for _, expected := range []string{"sightline v9.9.9-test", "Build:", "Commit:"} {
		if !strings.Contains(output, expected) {
			t.Errorf("expected output to contain %q\nGot: %s", expected, output)
		}
	}
}

func TestConsoleRenderer_NewMessages(t *testing.T) {
	var buf bytes.Buffer
	r := newConsoleRenderer(&buf)
	r.store = transcript.NewStore()

	r.store.Append(transcript.RoleUser, "open the settings menu")
	r.TranscriptChanged()
	r.store.Append(transcript.RoleRound, "Round 1")
	r.TranscriptChanged()
	r.store.Append(transcript.RoleAssistant, "Tapping the gear icon.")
	r.TranscriptChanged()
	r.finish()

	output := buf.String()
	for _, expected := range []string{
		"You> open the settings menu",
		"Round 1",
		"Agent> Tapping the gear icon.",
	} {
		if !strings.Contains(output, expected) {
			t.Errorf("expected output to contain %q\nGot: %s", expected, output)
		}
	}
}

func TestConsoleRenderer_StreamedGrowth(t *testing.T) {
	var buf bytes.Buffer
	r := newConsoleRenderer(&buf)
	r.store = transcript.NewStore()

	id := r.store.Append(transcript.RoleAssistant, "")
	r.TranscriptChanged()
	r.store.AppendText(id, "Hel")
	r.TranscriptChanged()
	r.store.AppendText(id, "lo")
	r.TranscriptChanged()
	r.finish()

	if got := buf.String(); !strings.Contains(got, "Agent> Hello") {
		t.Errorf("expected streamed message %q, got %q", "Agent> Hello", got)
	}
	// Each delta must be written exactly once.
	if got := strings.Count(buf.String(), "Hel"); got != 1 {
		t.Errorf("delta written %d times, want 1", got)
	}
}

func TestConsoleRenderer_ResultImageAndWarnings(t *testing.T) {
	var buf bytes.Buffer
	r := newConsoleRenderer(&buf)
	r.store = transcript.NewStore()

	r.ResultImage("/cache/round1.png")
	r.ResultImage("") // reset must not print
	r.ControlWarning(true)
	r.ControlWarning(false)

	output := buf.String()
	if !strings.Contains(output, "[image] /cache/round1.png") {
		t.Errorf("missing image line in %q", output)
	}
	if !strings.Contains(output, "controlling the interface") {
		t.Errorf("missing warning line in %q", output)
	}
	if !strings.Contains(output, "released control") {
		t.Errorf("missing warning-end line in %q", output)
	}
}

func TestRolePrefix(t *testing.T) {
	tests := []struct {
		role transcript.Role
		want string
	}{
		{transcript.RoleUser, "You> "},
		{transcript.RoleAssistant, "Agent> "},
		{transcript.RoleError, "Error: "},
		{transcript.RoleRound, ""},
		{transcript.RoleStatus, ""},
	}

	for _, tt := range tests {
		if got := rolePrefix(tt.role); got != tt.want {
			t.Errorf("rolePrefix(%q) = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	originalServer := flagServerURL
	originalMode := flagMode
	defer func() {
		flagServerURL = originalServer
		flagMode = originalMode
	}()

	flagServerURL = "http://10.0.0.8:5000"
	flagMode = "predict"

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.URL != "http://10.0.0.8:5000" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Mode != "predict" {
		t.Errorf("Mode = %q", cfg.Mode)
	}
}

func TestLoadConfig_RejectsBadOverride(t *testing.T) {
	originalMode := flagMode
	defer func() { flagMode = originalMode }()

	flagMode = "telepathy"
	if _, err := loadConfig(); err == nil {
		t.Error("expected error for invalid mode override")
	}
}
