// Package controller implements the Experience Controller (spec §4.2): the
// state machine that owns the currently-running Experience and serializes
// every transition behind a single modify lock. It is the Go equivalent of
// the original's footron_controller.controller.Controller, generalized from
// the teacher's DevContainerManager (api/pkg/hydra/devcontainer.go) request
// serialization pattern — one mutex guarding create/inspect/stop against
// concurrent callers — to this domain's start/stop/lock/reload operations.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/footron/controller/internal/catalog"
	"github.com/footron/controller/internal/config"
	"github.com/footron/controller/internal/environment"
	"github.com/footron/controller/internal/placard"
	"github.com/footron/controller/internal/types"
	"github.com/footron/controller/internal/windowmanager"
)

// ScreenshotCapturer grabs an image of the current viewport (spec §1:
// screenshot capture is an external collaborator, only its interface is
// fixed by this module).
type ScreenshotCapturer interface {
	Screenshot(ctx context.Context, width, height int, format string, quality int) ([]byte, string, error)
}

// ColorExtractor runs background palette-extraction jobs against the
// current experience and reports completed results for persistence (spec
// §1: color-palette extraction is an external collaborator; spec §4.2
// "colors loop" only drains and persists whatever it reports).
type ColorExtractor interface {
	// Drain returns any palette-extraction jobs that finished since the
	// last call, non-blocking.
	Drain() []PaletteResult
}

// PaletteResult is one completed palette extraction.
type PaletteResult struct {
	ExperienceID string
	Colors       []string
}

// EnvironmentFactory builds the Environment variant for an Experience kind.
// environment.Factory implements this; tests substitute a fake so
// set_current's transition logic can be exercised without a real Docker
// daemon or browser binary.
type EnvironmentFactory interface {
	New(kind types.Kind) (environment.Environment, error)
}

// Controller owns the catalog, the current experience and every background
// loop described in spec §4.2.
type Controller struct {
	cfg config.ControllerConfig

	factory  EnvironmentFactory
	placard  *placard.Client
	wm       *windowmanager.Client
	screens  ScreenshotCapturer
	colors   ColorExtractor

	dockerCleaner dockerCleaner
	availability  *availabilityCache

	bg conc.WaitGroup

	// mu is the modify lock of spec §5: held across resolve -> notify
	// surfaces -> stop outgoing -> start incoming -> assign new current.
	// set_current uses TryLock (non-queuing); the lock setter and PATCH
	// handlers use Lock (they wait their turn).
	mu sync.Mutex

	current    *types.CurrentExperience
	currentEnv environment.Environment

	lastSettingStartedMu sync.Mutex
	lastSettingStarted   time.Time

	catalogMu      sync.RWMutex
	experiences    map[string]types.Experience
	collections    map[string]types.Collection
	tags           map[string]types.Tag
	folders        map[string]types.Folder
	catalogVersion int64

	persistedColors map[string][]string
}

// dockerCleaner sweeps rogue containers for a set of docker image tags
// (spec §4.2: "Docker cleanup sweeps every Docker experience that is NOT
// the current one and calls its best-effort shutdown_by_tag"). The
// Controller computes which images qualify (every docker-kind catalog
// experience except the current one) and hands them to Sweep.
type dockerCleaner interface {
	Sweep(ctx context.Context, images []string) error
}

// New builds a Controller. screens and colors may be nil; Screenshot and
// the colors loop then no-op/return ErrScreenshotUnavailable.
func New(cfg config.ControllerConfig, factory EnvironmentFactory, placardClient *placard.Client, wmClient *windowmanager.Client, cleaner dockerCleaner, screens ScreenshotCapturer, colors ColorExtractor) *Controller {
	return &Controller{
		cfg:             cfg,
		factory:         factory,
		placard:         placardClient,
		wm:              wmClient,
		screens:         screens,
		colors:          colors,
		dockerCleaner:   cleaner,
		availability:    newAvailabilityCache(),
		experiences:     map[string]types.Experience{},
		collections:     map[string]types.Collection{},
		tags:            map[string]types.Tag{},
		folders:         map[string]types.Folder{},
		persistedColors: map[string][]string{},
	}
}

// spawn registers a background task for shutdown drain (spec §9: "Provide a
// task-spawner handle on the application context; all background tasks are
// registered for shutdown drain").
func (c *Controller) spawn(f func()) {
	c.bg.Go(f)
}

// Shutdown waits for every outstanding background task (loaders, detached
// stops, placard updates) to finish.
func (c *Controller) Shutdown() {
	c.bg.Wait()
}

// ReloadFromFS rescans the on-disk experience and grouping configuration
// (spec §6 GET /reload), and bumps the catalog version so the Scheduler's
// next GET /current observes last_update changed and rebuilds its
// playlists (spec §4.3). Experiences whose environment cannot actually be
// instantiated (spec §3 "available(): bool", spec §7
// EnvironmentInitializationError: "renders the experience permanently
// unavailable and excludes it from the catalog at load time") are dropped
// here rather than carried into the catalog and discovered broken later.
func (c *Controller) ReloadFromFS(ctx context.Context) error {
	experiences, err := catalog.LoadExperiences(c.cfg.DataPath + "/experiences")
	if err != nil {
		return err
	}
	collections, err := catalog.LoadCollections(c.cfg.ConfigPath + "/collections.toml")
	if err != nil {
		return err
	}
	tags, err := catalog.LoadTags(c.cfg.ConfigPath + "/tags.toml")
	if err != nil {
		return err
	}
	folders, err := catalog.LoadFolders(c.cfg.ConfigPath + "/folders.toml")
	if err != nil {
		return err
	}
	catalog.PopulateGroupings(experiences, folders)
	c.dropUnavailable(ctx, experiences)

	c.catalogMu.Lock()
	c.experiences = experiences
	c.collections = collections
	c.tags = tags
	c.folders = folders
	c.catalogVersion++
	c.catalogMu.Unlock()

	log.Info().Int("experience_count", len(experiences)).Msg("controller: reloaded catalog from filesystem")
	return nil
}

// dropUnavailable removes every experience whose Available() probe fails
// from experiences in place, logging each exclusion once (the probe itself
// is memoized by availabilityCache so a later ReloadFromFS doesn't re-pull
// a docker image or re-check a binary's PATH entry unnecessarily).
func (c *Controller) dropUnavailable(ctx context.Context, experiences map[string]types.Experience) {
	for id, exp := range experiences {
		if c.checkAvailable(ctx, id, exp) {
			continue
		}
		log.Warn().Str("experience_id", id).Msg("controller: excluding unavailable experience from catalog")
		delete(experiences, id)
	}
}

// Experiences returns a snapshot of the loaded catalog.
func (c *Controller) Experiences() map[string]types.Experience {
	c.catalogMu.RLock()
	defer c.catalogMu.RUnlock()
	out := make(map[string]types.Experience, len(c.experiences))
	for k, v := range c.experiences {
		out[k] = v
	}
	return out
}

func (c *Controller) Experience(id string) (types.Experience, bool) {
	c.catalogMu.RLock()
	defer c.catalogMu.RUnlock()
	exp, ok := c.experiences[id]
	return exp, ok
}

func (c *Controller) Collections() map[string]types.Collection {
	c.catalogMu.RLock()
	defer c.catalogMu.RUnlock()
	out := make(map[string]types.Collection, len(c.collections))
	for k, v := range c.collections {
		out[k] = v
	}
	return out
}

func (c *Controller) Tags() map[string]types.Tag {
	c.catalogMu.RLock()
	defer c.catalogMu.RUnlock()
	out := make(map[string]types.Tag, len(c.tags))
	for k, v := range c.tags {
		out[k] = v
	}
	return out
}

func (c *Controller) Folders() map[string]types.Folder {
	c.catalogMu.RLock()
	defer c.catalogMu.RUnlock()
	out := make(map[string]types.Folder, len(c.folders))
	for k, v := range c.folders {
		out[k] = v
	}
	return out
}

func (c *Controller) catalogVersionNow() int64 {
	c.catalogMu.RLock()
	defer c.catalogMu.RUnlock()
	return c.catalogVersion
}

// CurrentSnapshot is a read-only copy of CurrentExperience safe to hand to
// the HTTP layer without holding the Controller's lock.
type CurrentSnapshot struct {
	Experience      types.Experience
	StartTime       time.Time
	EndTime         *time.Time
	LastInteraction *time.Time
	Lock            types.Lock
	CatalogVersion  int64
}

// Current returns a snapshot of the running experience, or nil if none.
func (c *Controller) Current() *CurrentSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return &CurrentSnapshot{
		Experience:      c.current.Experience,
		StartTime:       c.current.StartTime,
		EndTime:         c.current.EndTime,
		LastInteraction: c.current.LastInteraction,
		Lock:            c.current.Lock,
		CatalogVersion:  c.catalogVersionNow(),
	}
}

// Screenshot delegates to the wired ScreenshotCapturer (spec §6 GET
// /screenshot).
func (c *Controller) Screenshot(ctx context.Context, width, height int, format string, quality int) ([]byte, string, error) {
	if c.screens == nil {
		return nil, "", ErrScreenshotUnavailable
	}
	return c.screens.Screenshot(ctx, width, height, format, quality)
}
