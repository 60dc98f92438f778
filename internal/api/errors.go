package api

import (
	"errors"

	"github.com/footron/controller/internal/controller"
)

// isThrottledOrBusy maps the Controller's two non-queuing fast-fail
// sentinels to PUT /current's 429 response (spec §6, §7).
func isThrottledOrBusy(err error) bool {
	return errors.Is(err, controller.ErrThrottled) || errors.Is(err, controller.ErrBusy)
}

func isUnknownExperience(err error) bool {
	return errors.Is(err, controller.ErrUnknownExperience)
}
