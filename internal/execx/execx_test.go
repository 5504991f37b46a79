package execx

import (
	"testing"
	"time"
)

func TestOutput(t *testing.T) {
	t.Parallel()

	r := NewOSRunner()
	out, err := r.Output("echo", "hello")
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if out != "hello" {
		t.Fatalf("out=%q, want %q", out, "hello")
	}
}

func TestOutputMissingTool(t *testing.T) {
	t.Parallel()

	r := NewOSRunner()
	if _, err := r.Output("flowsweep-no-such-tool"); err == nil {
		t.Fatal("expected error for missing tool")
	}
}

func TestProcStopTerminates(t *testing.T) {
	t.Parallel()

	r := NewOSRunner()
	p, err := r.Start("sleep", "30")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	if err := p.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Stop took %v, want bounded", elapsed)
	}
}

func TestProcStopIdempotent(t *testing.T) {
	t.Parallel()

	r := NewOSRunner()
	p, err := r.Start("sleep", "30")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("Stop #1: %v", err)
	}
	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("Stop #2: %v", err)
	}
}

func TestProcStopAfterExit(t *testing.T) {
	t.Parallel()

	r := NewOSRunner()
	p, err := r.Start("true")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("Stop after exit: %v", err)
	}
}
