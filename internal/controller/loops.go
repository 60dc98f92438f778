package controller

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/footron/controller/internal/environment"
	"github.com/footron/controller/internal/stability"
	"github.com/footron/controller/internal/types"
)

// sweepFailureLog caps rogue-container sweep failure logging to once per
// minute: the stability loop retries every 15s, and a persistently
// unreachable Docker daemon would otherwise flood the log at that rate.
var sweepFailureLog = rate.Sometimes{Interval: time.Minute}

// RunBackgroundLoops starts the four periodic tasks spec §4.2 lists at
// boot, each in its own goroutine, and returns immediately; the tasks run
// until ctx is canceled.
func (c *Controller) RunBackgroundLoops(ctx context.Context, monitor *stability.Monitor) {
	go c.emptyExperienceInitializer(ctx)
	go c.stabilityLoop(ctx, monitor)
	go c.exitWatchLoop(ctx)
	go c.colorsLoop(ctx)
}

// emptyExperienceInitializer clears the placard without racing an early
// operator set: after the configured delay it attempts set_current(nil)
// throttled by that same delay, so if an operator already set something in
// the meantime the throttle (or the id-already-current check) makes this a
// no-op (spec §4.2).
func (c *Controller) emptyExperienceInitializer(ctx context.Context) {
	delay := time.Duration(c.cfg.InitialEmptyExperienceDelaySeconds) * time.Second
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}
	if err := c.SetCurrent(ctx, nil, delay, false); err != nil {
		log.Debug().Err(err).Msg("controller: initial empty experience set skipped")
	}
}

// stabilityLoop runs docker_cleanup_rogue_containers every tick, then, if
// enabled, feeds one GPU probe into the rolling failure window (spec §4.2).
func (c *Controller) stabilityLoop(ctx context.Context, monitor *stability.Monitor) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.spawn(func() { c.cleanupRogueContainers(detachedContext(ctx)) })
			if c.cfg.CheckStability && monitor != nil {
				monitor.Check(ctx)
			}
		}
	}
}

func (c *Controller) cleanupRogueContainers(ctx context.Context) {
	if c.dockerCleaner == nil {
		return
	}
	currentID := ""
	if snap := c.Current(); snap != nil {
		currentID = snap.Experience.ID
	}
	var images []string
	for id, exp := range c.Experiences() {
		if exp.Kind != types.KindDocker || id == currentID {
			continue
		}
		images = append(images, exp.ImageID)
	}
	if err := c.dockerCleaner.Sweep(ctx, images); err != nil {
		sweepFailureLog.Do(func() {
			log.Warn().Err(err).Msg("controller: rogue container sweep failed")
		})
	}
}

// exitWatchLoop observes the current environment crashing on its own and
// clears the display (spec §4.2, §7: "the exit-watch loop will observe
// failed and attempt to set current to null").
func (c *Controller) exitWatchLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			env := c.currentEnv
			c.mu.Unlock()
			if env == nil {
				continue
			}
			if poller, ok := env.(interface{ Poll(context.Context) }); ok {
				poller.Poll(ctx)
			}
			if env.State() == environment.StateFailed {
				if err := c.SetCurrent(ctx, nil, 5*time.Second, true); err != nil {
					log.Debug().Err(err).Msg("controller: exit-watch set-empty skipped")
				}
			}
		}
	}
}

// colorsLoop drains completed background palette-extraction jobs and
// persists their results (spec §4.2). Extraction itself is an external
// collaborator (spec §1); this loop only owns draining and persistence.
func (c *Controller) colorsLoop(ctx context.Context) {
	if c.colors == nil {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, result := range c.colors.Drain() {
				c.catalogMu.Lock()
				c.persistedColors[result.ExperienceID] = result.Colors
				c.catalogMu.Unlock()
			}
		}
	}
}

// Colors returns the last-persisted palette for an experience, if any.
func (c *Controller) Colors(experienceID string) ([]string, bool) {
	c.catalogMu.RLock()
	defer c.catalogMu.RUnlock()
	colors, ok := c.persistedColors[experienceID]
	return colors, ok
}
