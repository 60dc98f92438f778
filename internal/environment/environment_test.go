package environment

import "testing"

func TestStartStopTransitions(t *testing.T) {
	b := newBase()

	if err := b.beginStart(); err != nil {
		t.Fatalf("start from idle: %v", err)
	}
	b.finishStart()
	if b.State() != StateRunning {
		t.Fatalf("expected running, got %s", b.State())
	}

	if err := b.beginStart(); err == nil {
		t.Fatalf("expected error starting an already-running environment")
	}

	if err := b.beginStop(); err != nil {
		t.Fatalf("stop from running: %v", err)
	}
	b.finishStop()
	if b.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", b.State())
	}
}

func TestFailedStartAllowsRetry(t *testing.T) {
	b := newBase()
	if err := b.beginStart(); err != nil {
		t.Fatalf("start: %v", err)
	}
	b.failStart()
	if b.State() != StateFailed {
		t.Fatalf("expected failed, got %s", b.State())
	}

	if err := b.beginStart(); err != nil {
		t.Fatalf("expected retry from failed to be allowed, got %v", err)
	}
}

func TestStopFromIdleIsInvalid(t *testing.T) {
	b := newBase()
	if err := b.beginStop(); err == nil {
		t.Fatalf("expected error stopping an idle environment")
	}
}
