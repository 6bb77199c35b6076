// Package images inspects executor images in the local container engine.
package images

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"

	"github.com/cochaviz/executor-builder/internal/models"
)

type imageClient interface {
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	Close() error
}

// DockerInspector looks up built images through the Docker Engine API.
type DockerInspector struct {
	cli imageClient
}

// NewDockerInspector connects using the standard DOCKER_* environment.
func NewDockerInspector() (*DockerInspector, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerInspector{cli: cli}, nil
}

// Inspect returns the engine's view of an image reference.
func (d *DockerInspector) Inspect(ctx context.Context, ref string) (models.ImageInfo, error) {
	if d.cli == nil {
		return models.ImageInfo{}, errors.New("docker client is not initialized")
	}

	inspect, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return models.ImageInfo{}, fmt.Errorf("image %s not found: %w", ref, err)
		}
		return models.ImageInfo{}, fmt.Errorf("inspect image %s: %w", ref, err)
	}

	info := models.ImageInfo{
		ID:   inspect.ID,
		Tags: inspect.RepoTags,
		Size: inspect.Size,
	}
	if created, err := time.Parse(time.RFC3339Nano, inspect.Created); err == nil {
		info.Created = created
	}
	return info, nil
}

// Close releases the underlying client.
func (d *DockerInspector) Close() error {
	if d.cli == nil {
		return nil
	}
	return d.cli.Close()
}
