package stability

import (
	"context"
	"os/exec"

	"github.com/rs/zerolog/log"
)

// SystemRebooter shells out to the host's reboot command (systemctl reboot)
// and waits for that command to return, without any lifecycle tracking
// since the reboot ends the host.
type SystemRebooter struct{}

func (SystemRebooter) Reboot(ctx context.Context) error {
	log.Warn().Msg("stability: rolling failure ratio exceeded threshold, rebooting host")
	cmd := exec.CommandContext(ctx, "systemctl", "reboot")
	return cmd.Run()
}
