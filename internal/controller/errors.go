package controller

import "errors"

// Sentinel errors for set_current's non-fault outcomes (spec §7: throttle
// and busy are surfaced as 429, never treated as a fault), in the style of
// the teacher's api/pkg/scheduler/errors.go sentinel set.
var (
	// ErrThrottled is returned when the most recent "setting started"
	// timestamp is within the caller's throttle window.
	ErrThrottled = errors.New("controller: set_current throttled")

	// ErrBusy is returned when the modify lock is already held by another
	// in-flight set_current call. set_current never queues.
	ErrBusy = errors.New("controller: set_current already in progress")

	// ErrUnknownExperience is returned when the requested id isn't in the
	// loaded catalog.
	ErrUnknownExperience = errors.New("controller: unknown experience id")

	// ErrExperienceMismatch is returned by PATCH-style updates whose id
	// doesn't match the currently-running experience (spec §6 PATCH
	// /current: "400 if id mismatches").
	ErrExperienceMismatch = errors.New("controller: id does not match current experience")

	// ErrNoCurrent is returned by PATCH-style updates when nothing is
	// currently running.
	ErrNoCurrent = errors.New("controller: no current experience")

	// ErrScreenshotUnavailable is returned by Screenshot when no
	// ScreenshotCapturer has been wired in (spec §1: screenshot capture is
	// an external collaborator, only its interface is fixed here).
	ErrScreenshotUnavailable = errors.New("controller: screenshot capture not configured")
)
