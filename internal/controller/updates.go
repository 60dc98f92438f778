package controller

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/footron/controller/internal/types"
)

// UpdateEndTime patches the running experience's per-run deadline (spec §3,
// §6 PATCH /current). It acquires the modify lock so it never races a
// set_current transition, per spec §4.2 ("lock setter is asynchronous: it
// acquires the modify lock before mutating CurrentExperience.lock") applied
// equally to every CurrentExperience field a message or PATCH can touch.
func (c *Controller) UpdateEndTime(experienceID string, endTime *time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ErrNoCurrent
	}
	if c.current.Experience.ID != experienceID {
		return ErrExperienceMismatch
	}
	c.current.EndTime = endTime
	return nil
}

// UpdateLastInteraction records the last time a client message arrived for
// the running experience (spec §3, consumed by the Scheduler's
// INTERACTION_TIMEOUT_S rule).
func (c *Controller) UpdateLastInteraction(experienceID string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ErrNoCurrent
	}
	if c.current.Experience.ID != experienceID {
		return ErrExperienceMismatch
	}
	c.current.LastInteraction = &at
	return nil
}

// UpdateLock toggles the app lock (spec §3: "Setting status to its current
// value is a no-op (must not update last_update)"). Lock.Set already
// implements that semantics; this just guards it with the modify lock.
func (c *Controller) UpdateLock(experienceID string, status types.LockStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ErrNoCurrent
	}
	if c.current.Experience.ID != experienceID {
		return ErrExperienceMismatch
	}
	c.current.Lock.Set(status)
	return nil
}

// NotifyLifecycle records an app's pause/resume notification (spec §4.4
// "lcy"). The Controller only logs it; no CurrentExperience field carries
// lifecycle state.
func (c *Controller) NotifyLifecycle(experienceID string, paused bool) {
	log.Info().Str("experience_id", experienceID).Bool("paused", paused).Msg("controller: lifecycle notification")
}
