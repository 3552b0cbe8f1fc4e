package launcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// DockerLauncher backs C3 Launcher with the Docker engine API,
// grounded on executor.py's _deploy_team_dashboards/_deploy_sdr_service:
// look the container up by name, stop+remove it if present, then
// create and start a fresh one with the requested environment, ports,
// and volumes.
type DockerLauncher struct {
	cli     *client.Client
	network string
	host    string
	logger  *slog.Logger
}

// NewDockerLauncher connects to the Docker daemon using environment
// defaults (DOCKER_HOST, etc.), matching docker.from_env() in the
// original Python source.
func NewDockerLauncher(networkName, hostAddr string, logger *slog.Logger) (*DockerLauncher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to docker: %w", err)
	}
	return &DockerLauncher{cli: cli, network: networkName, host: hostAddr, logger: logger}, nil
}

// Launch implements Launcher.
func (l *DockerLauncher) Launch(ctx context.Context, spec Spec) (Handle, error) {
	exists, err := l.Exists(ctx, spec.Name)
	if err != nil {
		return Handle{}, fmt.Errorf("check existing container %s: %w", spec.Name, err)
	}
	if exists {
		l.logger.Info("replacing existing container", "name", spec.Name)
		if err := l.destroyByName(ctx, spec.Name); err != nil {
			return Handle{}, fmt.Errorf("%w: %s: %v", ErrLaunchConflict, spec.Name, err)
		}
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	var exposedPorts nat.PortSet
	var portBindings nat.PortMap
	if spec.PortBinding.ContainerPort != 0 {
		containerPort, err := nat.NewPort("tcp", fmt.Sprintf("%d", spec.PortBinding.ContainerPort))
		if err != nil {
			return Handle{}, fmt.Errorf("invalid container port: %w", err)
		}
		exposedPorts = nat.PortSet{containerPort: struct{}{}}
		portBindings = nat.PortMap{
			containerPort: []nat.PortBinding{{HostPort: fmt.Sprintf("%d", spec.PortBinding.HostPort)}},
		}
	}

	var mounts []mount.Mount
	for _, v := range spec.Volumes {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   v.HostPath,
			Target:   v.ContainerPath,
			ReadOnly: v.ReadOnly,
		})
	}

	resp, err := l.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        spec.Image,
			Env:          env,
			ExposedPorts: exposedPorts,
		},
		&container.HostConfig{
			PortBindings: portBindings,
			Mounts:       mounts,
		},
		&network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				l.network: {},
			},
		},
		nil,
		spec.Name,
	)
	if err != nil {
		return Handle{}, fmt.Errorf("create container %s: %w", spec.Name, err)
	}

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return Handle{}, fmt.Errorf("start container %s: %w", spec.Name, err)
	}

	url := fmt.Sprintf("http://%s:%d", l.host, spec.PortBinding.HostPort)
	return Handle{Name: spec.Name, Kind: spec.Kind, TeamID: spec.TeamID, URL: url}, nil
}

// Destroy implements Launcher.
func (l *DockerLauncher) Destroy(ctx context.Context, handle Handle) error {
	return l.destroyByName(ctx, handle.Name)
}

// Exists implements Launcher.
func (l *DockerLauncher) Exists(ctx context.Context, name string) (bool, error) {
	_, err := l.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *DockerLauncher) destroyByName(ctx context.Context, name string) error {
	if err := l.cli.ContainerStop(ctx, name, container.StopOptions{}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	if err := l.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}
