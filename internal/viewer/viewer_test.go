package viewer

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestSupervisor(t *testing.T) (*Supervisor, string) {
	t.Helper()
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	file := filepath.Join(t.TempDir(), "dev.log")
	if err := os.WriteFile(file, []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(Config{Command: "sleep", Args: []string{"30"}, BaseURL: "http://0.0.0.0:9001/"}, zerolog.Nop())
	t.Cleanup(func() { s.Stop() })
	return s, file
}

func TestStartReplacesPrevious(t *testing.T) {
	s, file := newTestSupervisor(t)

	url, err := s.Start("dev", file)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if url != "http://0.0.0.0:9001/dev" {
		t.Fatalf("url = %q", url)
	}
	if name, ok := s.Running(); !ok || name != "dev" {
		t.Fatalf("Running = %q, %v", name, ok)
	}

	if _, err := s.Start("other", file); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if name, _ := s.Running(); name != "other" {
		t.Fatalf("Running = %q, want other", name)
	}

	if !s.Stop() {
		t.Fatal("Stop reported nothing running")
	}
	if s.Stop() {
		t.Fatal("second Stop reported a running viewer")
	}
	if _, ok := s.Running(); ok {
		t.Fatal("viewer still running")
	}
}

func TestStartMissingFile(t *testing.T) {
	s, _ := newTestSupervisor(t)
	_, err := s.Start("ghost", filepath.Join(t.TempDir(), "ghost.log"))
	if !errors.Is(err, ErrNoLogFile) {
		t.Fatalf("err = %v", err)
	}
}

func TestDefaultArgs(t *testing.T) {
	s := New(Config{Command: "frontail"}, zerolog.Nop())
	if len(s.cfg.Args) != len(DefaultArgs) {
		t.Fatalf("args = %v", s.cfg.Args)
	}
}
