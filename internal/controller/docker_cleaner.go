package controller

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"
)

// DockerRogueCleaner sweeps orphaned containers left behind by a crashed
// controller process: any container whose ancestor image matches one of the
// given tags is force-stopped and removed, mirroring the per-environment
// sweep DockerEnvironment.Stop already does for its own image
// (environment/docker.go's sweepRogueContainers), generalized to run across
// every docker-kind catalog entry instead of just the one being stopped.
type DockerRogueCleaner struct {
	docker *client.Client
}

func NewDockerRogueCleaner(docker *client.Client) *DockerRogueCleaner {
	return &DockerRogueCleaner{docker: docker}
}

func (d *DockerRogueCleaner) Sweep(ctx context.Context, images []string) error {
	if d.docker == nil {
		return nil
	}
	var firstErr error
	for _, image := range images {
		if image == "" {
			continue
		}
		containers, err := d.docker.ContainerList(ctx, container.ListOptions{
			All:     true,
			Filters: filters.NewArgs(filters.Arg("ancestor", image)),
		})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("listing containers for %s: %w", image, err)
			}
			continue
		}
		for _, c := range containers {
			log.Warn().Str("container_id", c.ID).Str("image", image).Msg("controller: sweeping rogue container")
			_ = d.docker.ContainerStop(ctx, c.ID, container.StopOptions{})
			_ = d.docker.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true})
		}
	}
	return firstErr
}
