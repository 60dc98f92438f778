// Package environment runs the process or container backing one Experience
// kind. Environment is the Go equivalent of the original's
// footron_controller.environments.Environment abstract base, generalized
// from the teacher's DevContainerManager (api/pkg/hydra/devcontainer.go)
// lifecycle management: create/start, inspect, stop/remove.
package environment

import (
	"context"
	"fmt"
	"sync"

	"github.com/footron/controller/internal/types"
)

// State is one node of the environment lifecycle state machine (spec §5).
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Environment is implemented once per Experience kind: docker, web, video
// and capture. The Controller holds at most one running Environment and
// drives it through Start/Stop as the current experience changes.
type Environment interface {
	// Start brings the environment up for the given experience. previous is
	// the experience that was showing immediately before this one, if any,
	// so an environment can fast-path reuse (e.g. same docker image).
	Start(ctx context.Context, previous *types.Experience) error

	// Stop tears the environment down. next is the experience about to
	// replace it, if any.
	Stop(ctx context.Context, next *types.Experience) error

	// State reports the current lifecycle state.
	State() State

	// Available reports, without side effects, whether this environment
	// can be started: the docker variant pings the daemon (the image itself
	// is not checked), the browser variant looks up the kiosk binary, and
	// the capture variant queries the capture service's health endpoint.
	Available(ctx context.Context) bool
}

// ErrInvalidTransition is returned by base.transition when the requested
// move isn't legal from the current state.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("environment: invalid transition from %s to %s", e.From, e.To)
}

// base holds the shared state machine every variant embeds, so Start/Stop
// enforce the same legal-transition rules uniformly (spec §5: start valid
// only from idle/stopping/stopped/failed, stop valid only from
// running/starting/failed; any unhandled error puts the environment into
// failed rather than leaving it stuck mid-transition).
type base struct {
	mu    sync.Mutex
	state State
}

func newBase() base {
	return base{state: StateIdle}
}

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) set(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}

// beginStart validates and records the starting transition. The caller runs
// the actual startup work afterwards and calls finishStart/failStart.
func (b *base) beginStart() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateIdle, StateStopping, StateStopped, StateFailed:
		b.state = StateStarting
		return nil
	default:
		return &ErrInvalidTransition{From: b.state, To: StateStarting}
	}
}

func (b *base) finishStart() { b.set(StateRunning) }
func (b *base) failStart()   { b.set(StateFailed) }

// beginStop validates and records the stopping transition.
func (b *base) beginStop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateRunning, StateStarting, StateFailed:
		b.state = StateStopping
		return nil
	default:
		return &ErrInvalidTransition{From: b.state, To: StateStopping}
	}
}

func (b *base) finishStop() { b.set(StateStopped) }
func (b *base) failStop()   { b.set(StateFailed) }
