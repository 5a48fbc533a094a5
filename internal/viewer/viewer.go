// Package viewer supervises the external web log viewer (frontail by
// default). At most one viewer runs at a time; starting another stops the
// previous one.
package viewer

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoLogFile is returned when the requested log does not exist.
var ErrNoLogFile = errors.New("log file not found")

// DefaultArgs are passed to the viewer command. {name} and {file} are
// replaced with the stream name and its log file.
var DefaultArgs = []string{"--url-path", "/{name}", "--theme", "dark", "{file}"}

// Config describes how to launch the viewer.
type Config struct {
	Command string
	Args    []string
	BaseURL string
}

type process struct {
	name string
	cmd  *exec.Cmd
	done chan struct{}
}

// Supervisor owns the single viewer slot.
type Supervisor struct {
	cfg Config
	log zerolog.Logger

	mu  sync.Mutex
	cur *process
}

// New returns a supervisor. Empty Args use DefaultArgs.
func New(cfg Config, log zerolog.Logger) *Supervisor {
	if len(cfg.Args) == 0 {
		cfg.Args = DefaultArgs
	}
	return &Supervisor{cfg: cfg, log: log}
}

// URL returns where the viewer for name is served.
func (s *Supervisor) URL(name string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/" + name
}

// Start launches the viewer for file under name and returns its URL.
func (s *Supervisor) Start(name, file string) (string, error) {
	if _, err := os.Stat(file); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoLogFile, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	args := make([]string, len(s.cfg.Args))
	r := strings.NewReplacer("{name}", name, "{file}", file)
	for i, a := range s.cfg.Args {
		args[i] = r.Replace(a)
	}
	cmd := exec.Command(s.cfg.Command, args...)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start viewer: %w", err)
	}
	p := &process{name: name, cmd: cmd, done: make(chan struct{})}
	s.cur = p
	go func() {
		err := cmd.Wait()
		close(p.done)
		s.mu.Lock()
		if s.cur == p {
			s.cur = nil
		}
		s.mu.Unlock()
		s.log.Debug().Err(err).Str("stream", name).Msg("viewer exited")
	}()

	s.log.Info().Str("stream", name).Int("pid", cmd.Process.Pid).Msg("viewer started")
	return s.URL(name), nil
}

// Stop kills the running viewer, if any. It reports whether one was running.
func (s *Supervisor) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Supervisor) stopLocked() bool {
	p := s.cur
	if p == nil {
		return false
	}
	s.cur = nil
	_ = p.cmd.Process.Kill()
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		s.log.Warn().Str("stream", p.name).Msg("viewer did not exit after kill")
	}
	s.log.Info().Str("stream", p.name).Msg("viewer stopped")
	return true
}

// Running returns the stream name of the live viewer.
func (s *Supervisor) Running() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return "", false
	}
	return s.cur.name, true
}
