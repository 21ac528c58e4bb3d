package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerClient lists containers through the Docker Engine API.
type DockerClient struct {
	cli    *client.Client
	logger *slog.Logger
}

// NewDockerClient creates a client for the Engine listening on the unix
// socket at socketPath. The API version is negotiated on first use.
func NewDockerClient(socketPath string, logger *slog.Logger) (*DockerClient, error) {
	return newDockerClient(logger,
		client.WithHost("unix://"+socketPath),
		client.WithAPIVersionNegotiation(),
		client.WithTimeout(10*time.Second),
	)
}

func newDockerClient(logger *slog.Logger, opts ...client.Opt) (*DockerClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerClient{cli: cli, logger: logger}, nil
}

// ListContainers returns every container, running or not. When the
// Engine cannot be reached the failure is logged and an empty list is
// returned, so a host without Docker still answers.
func (d *DockerClient) ListContainers(ctx context.Context) ([]Container, error) {
	raw, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		d.logger.Error("failed to query docker engine", "error", err)
		return []Container{}, nil
	}

	out := make([]Container, 0, len(raw))
	for _, c := range raw {
		out = append(out, convertContainer(c))
	}
	return out, nil
}

// Ping checks that the Engine answers.
func (d *DockerClient) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

// Close releases the client's idle connections.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

func convertContainer(c types.Container) Container {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	image := c.Image
	if image == "" || strings.HasPrefix(image, "sha256:") {
		image = shortID(strings.TrimPrefix(c.ImageID, "sha256:"))
	}

	ports := make(map[string][]PortBinding)
	for _, p := range c.Ports {
		key := fmt.Sprintf("%d/%s", p.PrivatePort, p.Type)
		if p.PublicPort == 0 {
			if _, ok := ports[key]; !ok {
				ports[key] = nil
			}
			continue
		}
		ports[key] = append(ports[key], PortBinding{
			HostIP:   p.IP,
			HostPort: strconv.Itoa(int(p.PublicPort)),
		})
	}

	created := ""
	if c.Created > 0 {
		created = time.Unix(c.Created, 0).UTC().Format(time.RFC3339)
	}

	return Container{
		ID:      shortID(c.ID),
		Name:    name,
		Image:   image,
		Status:  c.Status,
		State:   c.State,
		Created: created,
		Ports:   ports,
	}
}

// shortID truncates a container or image ID to the 12 characters the
// docker CLI shows.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
