// Package process launches and supervises external tools without blocking the
// caller. Each child's stdout and stderr share a single pipe so output is
// delivered in the order the child wrote it.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Command describes one tool invocation.
type Command struct {
	// Name is a short label used in logs and failure messages ("pdflatex").
	Name string
	Path string
	Args []string
	Dir  string
	// Env is the complete child environment; nil inherits the parent's.
	Env []string
}

// Outcome is the result of a process that ran to completion.
type Outcome struct {
	ExitCode int
	Output   string
}

// Executor runs a command to completion, streaming merged output to onOutput.
// A non-nil error means the process could not be launched or was cancelled;
// a non-zero exit is reported through Outcome.ExitCode.
type Executor interface {
	Run(ctx context.Context, cmd Command, onOutput func(string)) (Outcome, error)
}

// Process is a handle to a supervised child.
type Process struct {
	name    string
	cmd     *exec.Cmd
	done    chan struct{}
	outcome Outcome
	err     error
}

// Done is closed after the child exited and all of its output was delivered.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Outcome blocks until the process finished and returns its result.
func (p *Process) Outcome() (Outcome, error) {
	<-p.done
	return p.outcome, p.err
}

// Terminate signals the child (and its process group where supported).
func (p *Process) Terminate() error {
	return terminate(p.cmd)
}

// Supervisor tracks every running child so they can be terminated together.
type Supervisor struct {
	logger *slog.Logger
	poll   time.Duration

	mu    sync.Mutex
	procs map[*Process]struct{}
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		logger: logger,
		poll:   10 * time.Millisecond,
		procs:  make(map[*Process]struct{}),
	}
}

// Start launches cmd and returns immediately. onOutput (may be nil) is called
// from a supervisor goroutine, in order, for every chunk the child writes.
func (s *Supervisor) Start(cmd Command, onOutput func(string)) (*Process, error) {
	name := cmd.Name
	if name == "" {
		name = filepath.Base(cmd.Path)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("process: pipe for %s: %w", name, err)
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	c.Stdout = w
	c.Stderr = w
	configure(c)

	if err := c.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, fmt.Errorf("process: start %s: %w", name, err)
	}
	// The child holds its own copy of the write end.
	_ = w.Close()

	p := &Process{name: name, cmd: c, done: make(chan struct{})}

	s.mu.Lock()
	s.procs[p] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug("process: started",
		slog.String("name", name),
		slog.Int("pid", c.Process.Pid),
		slog.String("dir", cmd.Dir))

	go s.supervise(p, r, onOutput)
	return p, nil
}

func (s *Supervisor) supervise(p *Process, r *os.File, onOutput func(string)) {
	defer close(p.done)
	defer func() {
		s.mu.Lock()
		delete(s.procs, p)
		s.mu.Unlock()
	}()

	var out strings.Builder
	var pending []byte
	buf := make([]byte, 4096)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			cut := runeBoundary(pending)
			if cut > 0 {
				chunk := string(pending[:cut])
				pending = append(pending[:0], pending[cut:]...)
				out.WriteString(chunk)
				if onOutput != nil {
					onOutput(chunk)
				}
			}
		}
		if readErr != nil {
			break
		}
	}
	if len(pending) > 0 {
		out.Write(pending)
		if onOutput != nil {
			onOutput(string(pending))
		}
	}
	_ = r.Close()

	waitErr := p.cmd.Wait()
	p.outcome = Outcome{ExitCode: exitCode(waitErr), Output: out.String()}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		p.err = fmt.Errorf("process: wait %s: %w", p.name, waitErr)
	}

	s.logger.Debug("process: exited",
		slog.String("name", p.name),
		slog.Int("exit_code", p.outcome.ExitCode))
}

// Run starts cmd and waits for it. Cancelling ctx terminates the child.
func (s *Supervisor) Run(ctx context.Context, cmd Command, onOutput func(string)) (Outcome, error) {
	p, err := s.Start(cmd, onOutput)
	if err != nil {
		return Outcome{ExitCode: -1}, err
	}
	select {
	case <-p.done:
		return p.outcome, p.err
	case <-ctx.Done():
		if termErr := p.Terminate(); termErr != nil {
			s.logger.Warn("process: terminate failed",
				slog.String("name", p.name),
				slog.String("error", termErr.Error()))
		}
		<-p.done
		return p.outcome, ctx.Err()
	}
}

// Running returns the number of supervised children that have not exited.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// TerminateAll signals every child, then polls until they have all exited or
// timeout elapses. It reports whether all children exited in time.
func (s *Supervisor) TerminateAll(timeout time.Duration) bool {
	s.mu.Lock()
	procs := make([]*Process, 0, len(s.procs))
	for p := range s.procs {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	for _, p := range procs {
		if err := p.Terminate(); err != nil {
			s.logger.Warn("process: terminate failed",
				slog.String("name", p.name),
				slog.String("error", err.Error()))
		}
	}

	deadline := time.Now().Add(timeout)
	for s.Running() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(s.poll)
	}
	return true
}

// Find resolves a tool binary, first inside dir (when set) and then on PATH.
func Find(dir, name string) (string, error) {
	if dir != "" {
		candidate := filepath.Join(dir, name)
		if runtime.GOOS == "windows" && filepath.Ext(candidate) == "" {
			candidate += ".exe"
		}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("process: find %s: %w", name, err)
	}
	return path, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// runeBoundary returns the length of the longest prefix of b that does not end
// in a truncated UTF-8 sequence.
func runeBoundary(b []byte) int {
	end := len(b)
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if !utf8.RuneStart(c) {
			continue
		}
		if !utf8.FullRune(b[len(b)-i:]) {
			end = len(b) - i
		}
		break
	}
	return end
}
