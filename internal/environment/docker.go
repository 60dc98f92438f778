package environment

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	units "github.com/docker/go-units"
	"github.com/rs/zerolog/log"
	"github.com/thediveo/whalewatcher/watcher"

	"github.com/footron/controller/internal/config"
	"github.com/footron/controller/internal/portmanager"
	"github.com/footron/controller/internal/types"
)

// DockerEnvironment runs an Experience's image as a single container,
// adapted from the teacher's DevContainerManager (api/pkg/hydra/devcontainer.go):
// the same create/start/inspect/stop/remove lifecycle, a GPU device request
// instead of vendor-specific device mounts, and a CapAdd/shm-size/X11-bind
// set fixed by this domain rather than passed in per request.
type DockerEnvironment struct {
	base

	docker *client.Client
	watch  watcher.Watcher // optional; backs State()'s crash detection
	ports  *portmanager.Manager
	cfg    config.ControllerConfig

	containerID      string
	image            string
	reservedHTTPPort int
	reservedMsgPort  int
}

// NewDockerEnvironment dials the Docker daemon from the standard DOCKER_*
// environment variables, defaulting to the local unix socket. It has no
// whalewatcher-backed crash detection, so State reports only the lifecycle
// state; use NewDockerEnvironmentWithClient to share the Controller's single
// long-lived watcher across every Docker experience.
func NewDockerEnvironment(ports *portmanager.Manager, cfg config.ControllerConfig) (*DockerEnvironment, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return NewDockerEnvironmentWithClient(cli, nil, ports, cfg), nil
}

// NewDockerEnvironmentWithClient builds a DockerEnvironment against an
// already-dialed client and an already-running whalewatcher watcher (both
// owned by the Controller, so every Docker experience shares one Docker
// connection and one container-event stream instead of opening their own).
func NewDockerEnvironmentWithClient(cli *client.Client, watch watcher.Watcher, ports *portmanager.Manager, cfg config.ControllerConfig) *DockerEnvironment {
	return &DockerEnvironment{base: newBase(), docker: cli, watch: watch, ports: ports, cfg: cfg}
}

// Available reports whether the Docker daemon answers a ping. It does not
// check that the experience's image is present locally or can be pulled.
func (e *DockerEnvironment) Available(ctx context.Context) bool {
	_, err := e.docker.Ping(ctx)
	return err == nil
}

// State reports failed if the container whalewatcher last saw running has
// disappeared from its portfolio (dead, OOM-killed, etc.) without a Stop ever
// being issued for it.
func (e *DockerEnvironment) State() State {
	s := e.base.State()
	if s != StateRunning || e.watch == nil || e.containerID == "" {
		return s
	}
	if e.watch.Portfolio().Container(e.containerID) == nil {
		return StateFailed
	}
	return s
}

// Start creates and runs the image's container with the fixed device and
// mount profile required by interactive exhibit experiences: an X11 bind
// mount, an nvidia GPU device request for all GPUs with every driver
// capability enabled,
// mapped video capture devices from FT_VIDEO_DEV_<name>, and a messaging
// URL injected via FT_MSG_URL so the in-container app can reach the router.
func (e *DockerEnvironment) Start(ctx context.Context, previous *types.Experience) error {
	if err := e.beginStart(); err != nil {
		return err
	}

	exp := ctxExperience(ctx)
	if exp == nil || exp.ImageID == "" {
		e.failStart()
		return fmt.Errorf("docker environment: no image id for experience")
	}

	httpPort, msgPort, err := e.ports.ReservePair()
	if err != nil {
		e.failStart()
		return fmt.Errorf("reserving ports: %w", err)
	}

	env := []string{
		fmt.Sprintf("FT_MSG_URL=%s%s", e.cfg.MessagingBaseURL, exp.ID),
		"NVIDIA_DRIVER_CAPABILITIES=all",
	}

	// Resolved video capture devices are bind-mounted into the container at
	// their configured name, not forwarded as env vars: the app inside reads
	// /dev/video<name> directly, the same path shape the original's
	// VideoDeviceManager handed to its container launch (spec §4.1).
	videoDevices := config.ResolveVideoDevices()
	deviceMappings := make([]container.DeviceMapping, 0, len(videoDevices)+1)
	for _, vd := range videoDevices {
		deviceMappings = append(deviceMappings, container.DeviceMapping{
			PathOnHost:        vd.HostPath,
			PathInContainer:   "/dev/video" + vd.Name,
			CgroupPermissions: "rwm",
		})
	}

	// Ports 80 (HTTP) and 5555 (zmq-style messaging) are published on the
	// two reserved host ports, the same pair the original's DockerEnvironment
	// publishes container-side (environments.py: `ports={"80": http_port,
	// "5555": zmq_port}`). Host networking publishes nothing since the
	// container already shares the host's port space.
	exposedPorts := nat.PortSet{}
	portBindings := nat.PortMap{}
	if !exp.HostNetwork {
		httpContainerPort := nat.Port("80/tcp")
		msgContainerPort := nat.Port("5555/tcp")
		exposedPorts[httpContainerPort] = struct{}{}
		exposedPorts[msgContainerPort] = struct{}{}
		portBindings[httpContainerPort] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", httpPort)}}
		portBindings[msgContainerPort] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", msgPort)}}
	}

	containerCfg := &container.Config{
		Image:        exp.ImageID,
		Env:          env,
		ExposedPorts: exposedPorts,
	}

	networkMode := container.NetworkMode("bridge")
	if exp.HostNetwork {
		networkMode = "host"
	}

	hostCfg := &container.HostConfig{
		NetworkMode:  networkMode,
		CapAdd:       []string{"SYS_ADMIN"},
		ShmSize:      shmSizeBytes(e.cfg.DockerShmSize),
		PortBindings: portBindings,
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: "/tmp/.X11-unix", Target: "/tmp/.X11-unix"},
		},
		Devices: deviceMappings,
		DeviceRequests: []container.DeviceRequest{
			{Driver: "nvidia", Count: -1, Capabilities: [][]string{{"gpu"}}},
		},
	}

	resp, err := e.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, containerName(exp.ID))
	if err != nil {
		e.ports.Release(httpPort)
		e.ports.Release(msgPort)
		e.failStart()
		return fmt.Errorf("creating container: %w", err)
	}

	if err := e.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		e.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		e.ports.Release(httpPort)
		e.ports.Release(msgPort)
		e.failStart()
		return fmt.Errorf("starting container: %w", err)
	}

	e.containerID = resp.ID
	e.image = exp.ImageID
	e.reservedHTTPPort = httpPort
	e.reservedMsgPort = msgPort
	e.finishStart()

	log.Info().Str("experience_id", exp.ID).Str("container_id", resp.ID).Msg("docker environment started")
	return nil
}

// Stop kills the current container, then sweeps any other container still
// running the same image tag. Rogue containers happen when a previous
// controller process crashed mid-transition and never reached Stop; the
// sweep keeps a stale container from fighting the next Start for the GPU
// or X11 socket.
func (e *DockerEnvironment) Stop(ctx context.Context, next *types.Experience) error {
	if err := e.beginStop(); err != nil {
		return err
	}

	if e.containerID != "" {
		timeout := 2
		if err := e.docker.ContainerStop(ctx, e.containerID, container.StopOptions{Timeout: &timeout}); err != nil {
			log.Warn().Err(err).Str("container_id", e.containerID).Msg("failed to stop container gracefully")
		}
		if err := e.docker.ContainerRemove(ctx, e.containerID, container.RemoveOptions{Force: true}); err != nil {
			log.Warn().Err(err).Str("container_id", e.containerID).Msg("failed to remove container")
		}
		if e.reservedHTTPPort != 0 {
			e.ports.Release(e.reservedHTTPPort)
		}
		if e.reservedMsgPort != 0 {
			e.ports.Release(e.reservedMsgPort)
		}
		e.reservedHTTPPort, e.reservedMsgPort = 0, 0
	}

	if err := e.sweepRogueContainers(ctx); err != nil {
		log.Warn().Err(err).Msg("rogue container sweep failed")
	}

	e.containerID = ""
	e.finishStop()
	return nil
}

func (e *DockerEnvironment) sweepRogueContainers(ctx context.Context) error {
	if e.image == "" {
		return nil
	}
	containers, err := e.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("ancestor", e.image)),
	})
	if err != nil {
		return fmt.Errorf("listing containers for sweep: %w", err)
	}
	for _, c := range containers {
		log.Warn().Str("container_id", c.ID).Str("image", e.image).Msg("removing rogue container")
		_ = e.docker.ContainerStop(ctx, c.ID, container.StopOptions{})
		_ = e.docker.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true})
	}
	return nil
}

func containerName(experienceID string) string {
	return "footron-" + strings.ReplaceAll(experienceID, "/", "-")
}

// shmSizeBytes parses a human-readable size ("1g", "512m") the same way the
// docker CLI's --shm-size flag does, falling back to the original
// environments.py default of 1g if raw is empty or malformed.
func shmSizeBytes(raw string) int64 {
	const defaultShmSize = int64(1) << 30
	if raw == "" {
		return defaultShmSize
	}
	size, err := units.RAMInBytes(raw)
	if err != nil {
		log.Warn().Err(err).Str("shm_size", raw).Msg("docker environment: invalid shm size, using default")
		return defaultShmSize
	}
	return size
}

type experienceCtxKey struct{}

// WithExperience attaches the starting Experience to the context the
// Controller passes to Start, so Environment implementations don't need a
// separate parameter threaded through every call site.
func WithExperience(ctx context.Context, exp types.Experience) context.Context {
	return context.WithValue(ctx, experienceCtxKey{}, exp)
}

func ctxExperience(ctx context.Context) *types.Experience {
	exp, ok := ctx.Value(experienceCtxKey{}).(types.Experience)
	if !ok {
		return nil
	}
	return &exp
}
