package environment

import (
	"context"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// mercilesslyKillTimeout bounds how long mercilesslyKill keeps retrying
// SIGTERM before giving up and sending SIGKILL. The original's
// util.py::mercilessly_kill_process loops forever; the callers here run
// detached (spec §5: "fire-and-forget stop ... launched detached"), so
// bounding it keeps one wedged process from pinning a goroutine forever.
const mercilesslyKillTimeout = 10 * time.Second

// mercilesslyKill implements spec §5's subprocess discipline: send
// terminate, poll for exit, retry every second, matching the original's
// mercilessly_kill_process loop. exited reports whether the caller's own
// Wait goroutine has already observed the process exit.
func mercilesslyKill(ctx context.Context, proc *os.Process, exited *atomic.Bool) {
	deadline := time.Now().Add(mercilesslyKillTimeout)
	for {
		if exited.Load() {
			return
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return
		}
		if exited.Load() {
			return
		}
		if time.Now().After(deadline) {
			log.Warn().Int("pid", proc.Pid).Msg("process didn't die after repeated SIGTERM, sending SIGKILL")
			_ = proc.Kill()
			return
		}
		log.Warn().Int("pid", proc.Pid).Msg("managed process didn't die, trying again in 1s")
		select {
		case <-ctx.Done():
			_ = proc.Kill()
			return
		case <-time.After(time.Second):
		}
	}
}
