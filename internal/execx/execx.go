package execx

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Runner abstracts command execution so packages can be unit-tested without
// the real capture tools (tcpdump/tshark) installed.
type Runner interface {
	// Output runs a command to completion and returns its trimmed stdout.
	Output(name string, args ...string) (string, error)
	// Start launches a long-running command and returns a handle that owns
	// its lifetime.
	Start(name string, args ...string) (Proc, error)
}

// Proc is a started external process. Stop is idempotent and bounded: it
// asks the process to terminate, waits up to grace, then kills it.
type Proc interface {
	Stop(grace time.Duration) error
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct{}

func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

func (r *OSRunner) Output(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s: %s", err.Error(), msg)
		}
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func (r *OSRunner) Start(name string, args ...string) (Proc, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &osProc{cmd: cmd, done: make(chan error, 1)}
	go func() {
		p.done <- cmd.Wait()
	}()
	return p, nil
}

type osProc struct {
	cmd  *exec.Cmd
	done chan error

	mu      sync.Mutex
	stopped bool
}

func (p *osProc) Stop(grace time.Duration) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	// Graceful first: SIGTERM lets the process flush its output file.
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if processGone(err) {
			<-p.done
			return nil
		}
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	if err := p.cmd.Process.Kill(); err != nil && !processGone(err) {
		return err
	}
	<-p.done
	return nil
}

func processGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH)
}
