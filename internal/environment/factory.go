package environment

import (
	"fmt"

	"github.com/docker/docker/client"
	"github.com/thediveo/whalewatcher/watcher"

	"github.com/footron/controller/internal/config"
	"github.com/footron/controller/internal/portmanager"
	"github.com/footron/controller/internal/types"
)

// Factory builds the Environment variant matching one Experience kind. It
// holds the shared, process-wide collaborators (the one Docker client, the
// one whalewatcher watcher, the one port manager) so every Experience
// constructs against the same connections instead of opening its own, the
// way the teacher's devcontainer manager is handed a single docker client
// rather than dialing per call (api/pkg/hydra/devcontainer.go).
type Factory struct {
	docker      *client.Client
	watch       watcher.Watcher
	ports       *portmanager.Manager
	cfg         config.ControllerConfig
	kioskBinary string
}

// NewFactory builds a Factory. docker and watch may be nil in environments
// that never run docker-kind experiences (tests, kiosks without GPU
// hardware); New then returns an error for docker-kind experiences rather
// than building a docker variant.
func NewFactory(docker *client.Client, watch watcher.Watcher, ports *portmanager.Manager, cfg config.ControllerConfig, kioskBinary string) *Factory {
	return &Factory{docker: docker, watch: watch, ports: ports, cfg: cfg, kioskBinary: kioskBinary}
}

// New constructs the Environment for one Experience kind (spec §4.1: "each
// Experience variant construct its matching Environment variant", spec §9
// redesign note). A new Environment is built per run; the Controller never
// reuses one across a Start/Stop pair.
func (f *Factory) New(kind types.Kind) (Environment, error) {
	switch kind {
	case types.KindDocker:
		if f.docker == nil {
			return nil, fmt.Errorf("environment: no docker client configured")
		}
		return NewDockerEnvironmentWithClient(f.docker, f.watch, f.ports, f.cfg), nil
	case types.KindWeb, types.KindVideo:
		return NewBrowserEnvironment(f.ports, f.cfg, f.kioskBinary), nil
	case types.KindCapture:
		return NewCaptureEnvironment(f.cfg), nil
	default:
		return nil, fmt.Errorf("environment: unknown kind %q", kind)
	}
}
