package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/footron/controller/internal/environment"
	"github.com/footron/controller/internal/types"
)

// SetCurrent implements spec §4.2's set_current contract. id is the
// experience to switch to, or nil to clear the display. throttle<=0 means
// no throttle check. updateThrottle records this call's start time as the
// new throttle baseline for subsequent calls (the empty-experience
// initializer passes false so it never races an operator's own throttle
// window).
//
// Returns ErrThrottled or ErrBusy for the two non-queuing fast-fail paths
// (spec §5: "concurrent set_current calls return false immediately,
// non-queuing"), ErrUnknownExperience if id doesn't resolve, or the
// underlying environment.Start error if the incoming environment failed to
// come up. A nil return means the requested experience (or "nothing") is
// now current.
func (c *Controller) SetCurrent(ctx context.Context, id *string, throttle time.Duration, updateThrottle bool) error {
	if throttle > 0 {
		c.lastSettingStartedMu.Lock()
		since := time.Since(c.lastSettingStarted)
		c.lastSettingStartedMu.Unlock()
		if since < throttle {
			return ErrThrottled
		}
	}

	if !c.mu.TryLock() {
		return ErrBusy
	}
	defer c.mu.Unlock()

	if c.current != nil && id != nil && c.current.Experience.ID == *id {
		return nil
	}
	if c.current == nil && id == nil {
		return nil
	}

	if updateThrottle {
		c.lastSettingStartedMu.Lock()
		c.lastSettingStarted = time.Now()
		c.lastSettingStartedMu.Unlock()
	}

	var incoming *types.Experience
	if id != nil {
		exp, ok := c.Experience(*id)
		if !ok {
			return ErrUnknownExperience
		}
		incoming = &exp
	}

	var outgoing *types.Experience
	if c.current != nil {
		outgoing = &c.current.Experience
	}

	loaderShownAt := c.notifyWindowManager(ctx, incoming)
	c.notifyPlacard(ctx, incoming)

	if c.wm != nil {
		if err := c.wm.ClearViewport(ctx); err != nil {
			log.Warn().Err(err).Msg("controller: clearing viewport failed")
		}
	}

	outgoingEnv := c.currentEnv
	if outgoingEnv != nil {
		stopCtx := detachedContext(ctx)
		c.spawn(func() {
			if err := outgoingEnv.Stop(stopCtx, incoming); err != nil {
				log.Warn().Err(err).Msg("controller: stopping outgoing environment failed")
			}
		})
	}

	if incoming == nil {
		c.current = nil
		c.currentEnv = nil
		return nil
	}

	if incoming.LoadTime > 0 {
		time.Sleep(time.Second)
	}

	env, err := c.factory.New(incoming.Kind)
	if err != nil {
		c.current = nil
		c.currentEnv = nil
		return fmt.Errorf("controller: building environment for %q: %w", incoming.ID, err)
	}

	startCtx := environment.WithExperience(ctx, *incoming)
	if err := env.Start(startCtx, outgoing); err != nil {
		c.current = nil
		c.currentEnv = nil
		return fmt.Errorf("controller: starting %q: %w", incoming.ID, err)
	}

	c.current = types.NewCurrentExperience(*incoming)
	c.currentEnv = env

	if incoming.LoadTime > 0 && c.wm != nil && !loaderShownAt.IsZero() {
		loadTime := incoming.LoadTime
		c.spawn(func() {
			// Dismiss load_time after the overlay was actually shown
			// (spec.md:44, spec.md:105), not load_time after Start()
			// returns: the 1s visibility sleep and Start() itself both
			// elapse between ShowLoader and here.
			remaining := time.Duration(loadTime)*time.Second - time.Since(loaderShownAt)
			if remaining > 0 {
				time.Sleep(remaining)
			}
			if err := c.wm.HideLoader(detachedContext(ctx)); err != nil {
				log.Warn().Err(err).Msg("controller: dismissing loader failed")
			}
		})
	}

	log.Info().Str("experience_id", incoming.ID).Msg("controller: set current experience")
	return nil
}

// notifyWindowManager sets the incoming layout and, if the experience has a
// load_time, shows the loader overlay. It returns the instant the overlay
// was actually shown (zero if none was shown), so the caller can schedule
// the overlay's dismissal load_time after that moment rather than after
// whatever else happens to run before Start() returns (spec.md:44,
// spec.md:105).
func (c *Controller) notifyWindowManager(ctx context.Context, incoming *types.Experience) time.Time {
	if c.wm == nil || incoming == nil {
		return time.Time{}
	}

	if err := c.wm.SetLayout(ctx, incoming.Layout); err != nil {
		log.Warn().Err(err).Msg("controller: window manager layout notification failed")
	}

	if incoming.LoadTime <= 0 {
		return time.Time{}
	}

	if err := c.wm.ShowLoader(ctx, incoming.LoadTime); err != nil {
		log.Warn().Err(err).Msg("controller: window manager loader notification failed")
	}
	return time.Now()
}

// notifyPlacard updates the placard asynchronously (spec §4.2: "Update
// placard asynchronously (retry once on transient network error)"); the
// retry itself lives in internal/placard, so here it's purely fire-and-forget.
func (c *Controller) notifyPlacard(ctx context.Context, incoming *types.Experience) {
	if c.placard == nil {
		return
	}
	placardCtx := detachedContext(ctx)
	c.spawn(func() {
		if err := c.placard.UpdateExperience(placardCtx, incoming); err != nil {
			log.Warn().Err(err).Msg("controller: placard update failed")
		}
	})
}

// detachedContext strips cancellation from ctx while keeping it otherwise
// usable, for work that must outlive the request/tick that triggered it
// (spec §5: "set_current does not cancel an outgoing environment's stop").
func detachedContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
