package environment

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/footron/controller/internal/capture"
	"github.com/footron/controller/internal/config"
	"github.com/footron/controller/internal/types"
)

// CaptureEnvironment pairs an externally-hosted capture stream (a remote
// desktop, say) with a local capture-shell subprocess that decodes and
// displays it. It's grounded on the same external-process-plus-HTTP-handoff
// shape as the teacher's gptscript runner (api/pkg/gptscript/runner.go),
// substituting a plain POST handoff for the websocket handshake since the
// capture-service API is fire-and-forget rather than streaming.
type CaptureEnvironment struct {
	base

	client *capture.Client
	cfg    config.ControllerConfig

	mu        sync.Mutex
	cmd       *exec.Cmd
	startedAt time.Time
	loadTime  int

	exited atomic.Bool // capture-shell process observed to have exited on its own
	failed atomic.Bool // last Poll past the grace period saw zero upstream processes or could not fetch status
}

func NewCaptureEnvironment(cfg config.ControllerConfig) *CaptureEnvironment {
	return &CaptureEnvironment{
		base:   newBase(),
		client: capture.New(cfg.CaptureAPIURL),
		cfg:    cfg,
	}
}

func (e *CaptureEnvironment) Available(ctx context.Context) bool {
	return e.client.Available(ctx)
}

// Start posts {id, path} to the capture-service so it starts routing the
// named upstream's frames, then launches the local capture-shell process
// that renders them (spec §6).
func (e *CaptureEnvironment) Start(ctx context.Context, previous *types.Experience) error {
	if err := e.beginStart(); err != nil {
		return err
	}

	exp := ctxExperience(ctx)
	if exp == nil || exp.CapturePath == "" {
		e.failStart()
		return fmt.Errorf("capture environment: no capture path for experience")
	}

	id := exp.ID
	if err := e.client.PostAssignment(ctx, capture.Assignment{ID: &id, Path: exp.CapturePath}); err != nil {
		e.failStart()
		return err
	}

	// Not exec.CommandContext(ctx, ...): ctx is scoped to this Start call, but
	// capture-shell must outlive it until an explicit Stop.
	cmd := exec.Command("capture-shell", "--source", exp.CapturePath)
	if err := cmd.Start(); err != nil {
		e.failStart()
		return fmt.Errorf("launching capture-shell: %w", err)
	}

	e.exited.Store(false)
	e.failed.Store(false)
	e.mu.Lock()
	e.cmd = cmd
	e.startedAt = time.Now()
	e.loadTime = exp.LoadTime
	e.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		e.exited.Store(true)
	}()

	e.finishStart()
	log.Info().Str("experience_id", exp.ID).Msg("capture environment started")
	return nil
}

// Stop kills the local capture-shell process. If the successor experience
// is not also capture-kind, it additionally clears the upstream assignment
// with {id:null} so the capture-service stops routing frames nobody is
// displaying; when the successor is also capture, that POST is left to the
// successor's own Start to avoid toggling the same upstream link twice.
func (e *CaptureEnvironment) Stop(ctx context.Context, next *types.Experience) error {
	if err := e.beginStop(); err != nil {
		return err
	}

	e.mu.Lock()
	cmd := e.cmd
	e.cmd = nil
	e.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		mercilesslyKill(ctx, cmd.Process, &e.exited)
	}

	if next == nil || next.Kind != types.KindCapture {
		if err := e.client.PostAssignment(ctx, capture.Assignment{ID: nil}); err != nil {
			log.Warn().Err(err).Msg("failed to clear capture assignment")
		}
	}

	e.finishStop()
	return nil
}

// Poll re-checks the upstream capture-service's process count and caches the
// result for State() (spec §6: failed when the capture-service has no
// processes and more than max(load_time, CAPTURE_FAILED_TIMEOUT_S) has passed
// since start). The exit-watch loop calls this once per tick on whichever
// environment is current; State() itself stays side-effect free.
func (e *CaptureEnvironment) Poll(ctx context.Context) {
	e.mu.Lock()
	startedAt, loadTime := e.startedAt, e.loadTime
	e.mu.Unlock()

	if startedAt.IsZero() {
		return
	}
	grace := e.cfg.CaptureFailedTimeoutSeconds
	if loadTime > grace {
		grace = loadTime
	}
	if time.Since(startedAt) < time.Duration(grace)*time.Second {
		return
	}

	status, err := e.client.GetStatus(ctx)
	if err != nil {
		e.failed.Store(true)
		return
	}
	e.failed.Store(status.Processes == 0)
}

// State reports failed once the capture-shell process has exited on its own
// or Poll, past the grace period, has observed the upstream with zero
// processes or failed to fetch its status.
func (e *CaptureEnvironment) State() State {
	s := e.base.State()
	if s == StateRunning && (e.exited.Load() || e.failed.Load()) {
		return StateFailed
	}
	return s
}
