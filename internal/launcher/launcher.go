// Package launcher implements C3 Launcher: an abstraction over the
// container/process runtime that starts, addresses, and tears down
// dashboard and auxiliary-service workers.
package launcher

import (
	"context"
	"errors"
)

// ErrLaunchConflict is returned by Launch when a worker with the
// requested name already exists and could not be destroyed. A name
// collision whose destroy succeeds is resolved inside Launch per §4.4
// (destroy-then-relaunch) and is not reported.
var ErrLaunchConflict = errors.New("launch conflict")

// Kind distinguishes dashboard workers from auxiliary service workers.
type Kind string

const (
	KindDashboard Kind = "dashboard"
	KindService   Kind = "service"
)

// Spec describes a worker to launch.
type Spec struct {
	Name        string // container/process name; must be unique on the runtime
	Kind        Kind
	TeamID      string // empty for Kind == KindService
	Image       string
	Env         map[string]string
	PortBinding PortBinding
	Volumes     []VolumeMount
}

// PortBinding maps a container port to a host port. Zero value means
// no port is published.
type PortBinding struct {
	ContainerPort int
	HostPort      int
}

// VolumeMount binds a host path into the container.
type VolumeMount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// Handle is a WorkerHandle: an opaque reference to a launched worker,
// owned by the engine and destroyed only on stop.
type Handle struct {
	Name   string
	Kind   Kind
	TeamID string
	URL    string
}

// Launcher starts, addresses, and tears down workers. Launching into a
// name that already exists must first destroy the existing worker
// (idempotent relaunch, per §4.4) — implementations handle this
// internally inside Launch.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
	Destroy(ctx context.Context, handle Handle) error
	Exists(ctx context.Context, name string) (bool, error)
}
