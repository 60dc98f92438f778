package environment

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/footron/controller/internal/config"
	"github.com/footron/controller/internal/portmanager"
	"github.com/footron/controller/internal/types"
)

// BrowserEnvironment backs both the web and video experience kinds: a
// kiosk-mode browser process pointed at either an external URL (web) or a
// locally served video file (video), adapted from the teacher's pattern of
// launching a managed subprocess and tracking its lifetime
// (api/pkg/gptscript/runner.go launches and supervises an external process
// in much the same shape, minus the browser specifics).
type BrowserEnvironment struct {
	base

	ports *portmanager.Manager
	cfg   config.ControllerConfig

	mu        sync.Mutex
	cmd       *exec.Cmd
	server    *http.Server
	videoPort int
	kiosk     string // path to the kiosk browser binary

	exited atomic.Bool // set once the kiosk process has been observed to exit on its own
}

// NewBrowserEnvironment constructs the shared web/video runner. kioskBinary
// is the browser executable to launch in kiosk mode (e.g. chromium); it is
// configurable because the exhibit hardware varies between display nodes.
func NewBrowserEnvironment(ports *portmanager.Manager, cfg config.ControllerConfig, kioskBinary string) *BrowserEnvironment {
	if kioskBinary == "" {
		kioskBinary = "chromium"
	}
	return &BrowserEnvironment{base: newBase(), ports: ports, cfg: cfg, kiosk: kioskBinary}
}

func (e *BrowserEnvironment) Available(ctx context.Context) bool {
	_, err := exec.LookPath(e.kiosk)
	return err == nil
}

// State reports failed if the base state machine still believes the kiosk
// process is running but it has actually exited on its own (a crashed
// browser, not a Stop we issued), so the exit-watch loop can observe it.
func (e *BrowserEnvironment) State() State {
	s := e.base.State()
	if s == StateRunning && e.exited.Load() {
		return StateFailed
	}
	return s
}

// Start resolves the URL to load: an external URL for web experiences, or a
// locally-served static file for video experiences (spec §6), appends the
// messaging URL as a query parameter the in-page script reads, and launches
// the kiosk process.
func (e *BrowserEnvironment) Start(ctx context.Context, previous *types.Experience) error {
	if err := e.beginStart(); err != nil {
		return err
	}

	exp := ctxExperience(ctx)
	if exp == nil {
		e.failStart()
		return fmt.Errorf("browser environment: no experience in context")
	}

	target, err := e.resolveTarget(*exp)
	if err != nil {
		e.failStart()
		return err
	}

	msgURL := e.cfg.MessagingBaseURL + exp.ID
	fullURL := fmt.Sprintf("%s?ftMsgUrl=%s", target, msgURL)

	// Not exec.CommandContext(ctx, ...): ctx is scoped to this Start call, but
	// the kiosk process must outlive it until an explicit Stop.
	cmd := exec.Command(e.kiosk, "--kiosk", "--app="+fullURL)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		e.failStart()
		return fmt.Errorf("launching kiosk browser: %w", err)
	}

	e.exited.Store(false)
	e.mu.Lock()
	e.cmd = cmd
	e.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		e.exited.Store(true)
	}()

	e.finishStart()
	log.Info().Str("experience_id", exp.ID).Str("url", target).Msg("browser environment started")
	return nil
}

// resolveTarget returns the URL the kiosk browser should load. Web
// experiences point directly at their configured URL. Video experiences are
// served from a short-lived local HTTP file server rooted at the
// experience's directory under <data path>/experiences/<id>, matching the original's local static file
// serving for scrubbable video playback.
func (e *BrowserEnvironment) resolveTarget(exp types.Experience) (string, error) {
	switch exp.Kind {
	case types.KindWeb:
		if exp.URL == "" {
			return "", fmt.Errorf("web experience %q has no url", exp.ID)
		}
		return exp.URL, nil
	case types.KindVideo:
		return e.serveVideo(exp)
	default:
		return "", fmt.Errorf("browser environment: unsupported kind %q", exp.Kind)
	}
}

func (e *BrowserEnvironment) serveVideo(exp types.Experience) (string, error) {
	if exp.Filename == "" {
		return "", fmt.Errorf("video experience %q has no filename", exp.ID)
	}

	port, err := e.ports.Reserve()
	if err != nil {
		return "", fmt.Errorf("reserving video server port: %w", err)
	}

	dir := filepath.Join(e.cfg.DataPath, "experiences", exp.ID)
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(dir)))

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		e.ports.Release(port)
		return "", fmt.Errorf("binding video server: %w", err)
	}

	srv := &http.Server{Handler: mux}
	e.mu.Lock()
	e.server = srv
	e.videoPort = port
	e.mu.Unlock()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("video file server exited")
		}
	}()

	return fmt.Sprintf("http://127.0.0.1:%d/%s", port, exp.Filename), nil
}

// Stop kills the kiosk process and tears down any local video file server.
func (e *BrowserEnvironment) Stop(ctx context.Context, next *types.Experience) error {
	if err := e.beginStop(); err != nil {
		return err
	}

	e.mu.Lock()
	cmd, srv, port := e.cmd, e.server, e.videoPort
	e.cmd, e.server, e.videoPort = nil, nil, 0
	e.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		mercilesslyKill(ctx, cmd.Process, &e.exited)
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("failed to shut down video file server")
		}
		e.ports.Release(port)
	}

	e.finishStop()
	return nil
}
