package swarm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"

	"github.com/cuemby/replicactl/pkg/log"
	"github.com/cuemby/replicactl/pkg/retry"
	ctltypes "github.com/cuemby/replicactl/pkg/types"
)

// ErrOrchestratorUnavailable marks an orchestrator API failure that
// persisted through the retry budget.
var ErrOrchestratorUnavailable = errors.New("orchestrator unavailable")

// ErrNoContainer is returned when no local container matches the service
// name stem.
var ErrNoContainer = errors.New("no matching container")

// Startup gate: how long we wait for every expected replica of the database
// service to come up before giving up and letting the orchestrator restart
// the controller.
const (
	StartupAttempts = 40
	StartupDelay    = 10 * time.Second
)

// DockerAPI is the slice of the Docker Engine client the view consumes.
type DockerAPI interface {
	ServiceList(ctx context.Context, options types.ServiceListOptions) ([]swarm.Service, error)
	TaskList(ctx context.Context, options types.TaskListOptions) ([]swarm.Task, error)
	NodeList(ctx context.Context, options types.NodeListOptions) ([]swarm.Node, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	Close() error
}

// View reads the orchestrator's picture of the database service: which tasks
// are running, which overlay addresses they hold, and which local containers
// belong to the service. A fresh snapshot is taken on every call - replica
// set identity is ip-based, so a stale snapshot is never authoritative.
type View struct {
	api     DockerAPI
	service string
	overlay string
	logger  zerolog.Logger
}

// New constructs a View over a Docker client built from the ambient
// environment.
func New(serviceName, overlayName string) (*View, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return NewWithAPI(cli, serviceName, overlayName), nil
}

// NewWithAPI constructs a View over an existing API handle; used by tests.
func NewWithAPI(api DockerAPI, serviceName, overlayName string) *View {
	return &View{
		api:     api,
		service: serviceName,
		overlay: overlayName,
		logger:  log.WithComponent("swarm"),
	}
}

// Close releases the underlying client.
func (v *View) Close() error {
	return v.api.Close()
}

// service lookup by exact name. The engine's name filter matches substrings,
// so the result is filtered again.
func (v *View) findService(ctx context.Context) (swarm.Service, error) {
	services, err := v.api.ServiceList(ctx, types.ServiceListOptions{
		Filters: filters.NewArgs(filters.Arg("name", v.service)),
	})
	if err != nil {
		return swarm.Service{}, fmt.Errorf("listing services: %w", err)
	}

	var matches []swarm.Service
	for _, s := range services {
		if s.Spec.Name == v.service {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return swarm.Service{}, fmt.Errorf("service %q not found - was the stack deployed with the right service name?", v.service)
	case 1:
		return matches[0], nil
	default:
		return swarm.Service{}, fmt.Errorf("multiple services named %q", v.service)
	}
}

// runningTasks returns the service's tasks whose desired and actual state
// are both running.
func (v *View) runningTasks(ctx context.Context) ([]swarm.Task, error) {
	tasks, err := retry.Expo(ctx, func() ([]swarm.Task, error) {
		return v.api.TaskList(ctx, types.TaskListOptions{
			Filters: filters.NewArgs(
				filters.Arg("service", v.service),
				filters.Arg("desired-state", "running"),
			),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing tasks: %v", ErrOrchestratorUnavailable, err)
	}

	running := tasks[:0]
	for _, t := range tasks {
		if t.Status.State == swarm.TaskStateRunning {
			running = append(running, t)
		}
	}
	return running, nil
}

// ListTaskAddresses returns one TaskAddress per running task, carrying the
// task's address on the configured overlay network. Tasks without an
// attachment on that network are skipped.
func (v *View) ListTaskAddresses(ctx context.Context) ([]ctltypes.TaskAddress, error) {
	tasks, err := v.runningTasks(ctx)
	if err != nil {
		return nil, err
	}

	addrs := make([]ctltypes.TaskAddress, 0, len(tasks))
	for _, t := range tasks {
		for _, att := range t.NetworksAttachments {
			if att.Network.Spec.Name != v.overlay {
				continue
			}
			if len(att.Addresses) == 0 {
				continue
			}
			ip := att.Addresses[0]
			if slash := strings.IndexByte(ip, '/'); slash >= 0 {
				ip = ip[:slash] // clean CIDR suffix
			}
			addrs = append(addrs, ctltypes.TaskAddress{
				TaskID:        t.ID,
				NodeID:        t.NodeID,
				ContainerStem: v.service,
				IP:            ip,
			})
			break
		}
	}
	return addrs, nil
}

// IsServiceFullyUp reports whether the database service is running with all
// expected replicas. For a replicated service that is the declared replica
// count; for a global service it is the number of assigned nodes that are
// active and not down.
func (v *View) IsServiceFullyUp(ctx context.Context) (bool, error) {
	svc, err := v.findService(ctx)
	if err != nil {
		return false, err
	}

	tasks, err := v.runningTasks(ctx)
	if err != nil {
		return false, err
	}
	running := len(tasks)

	var expected int
	switch {
	case svc.Spec.Mode.Replicated != nil:
		if svc.Spec.Mode.Replicated.Replicas != nil {
			expected = int(*svc.Spec.Mode.Replicated.Replicas)
		}
	case svc.Spec.Mode.Global != nil:
		// Assignment is read from all tasks, not only running ones.
		assigned := make(map[string]struct{})
		allTasks, err := v.api.TaskList(ctx, types.TaskListOptions{
			Filters: filters.NewArgs(filters.Arg("service", v.service)),
		})
		if err != nil {
			return false, fmt.Errorf("listing tasks: %w", err)
		}
		for _, t := range allTasks {
			assigned[t.NodeID] = struct{}{}
		}

		nodes, err := v.api.NodeList(ctx, types.NodeListOptions{})
		if err != nil {
			return false, fmt.Errorf("listing nodes: %w", err)
		}
		for _, n := range nodes {
			if n.Spec.Availability != swarm.NodeAvailabilityActive || n.Status.State == swarm.NodeStateDown {
				continue
			}
			if _, ok := assigned[n.ID]; ok {
				expected++
			}
		}
		v.logger.Info().
			Int("expected", expected).
			Int("remaining", expected-running).
			Msg("Expected database nodes")
	default:
		return false, nil
	}

	return expected > 0 && running == expected, nil
}

// WaitUntilFullyUp blocks until IsServiceFullyUp or the startup budget is
// exhausted.
func (v *View) WaitUntilFullyUp(ctx context.Context) error {
	for attempt := StartupAttempts; attempt > 0; attempt-- {
		v.logger.Info().Int("attempts_remaining", attempt).
			Msg("Waiting for all database replicas to be up")
		if err := retry.Sleep(ctx, StartupDelay); err != nil {
			return err
		}
		up, err := v.IsServiceFullyUp(ctx)
		if err != nil {
			v.logger.Warn().Err(err).Msg("Service check failed, retrying")
			continue
		}
		if up {
			v.logger.Info().Msg("Database service nodes are up and running")
			return nil
		}
	}
	return fmt.Errorf("service %q did not come fully up within the startup budget", v.service)
}

// Container is a local container belonging to the database service.
type Container struct {
	ID   string
	Name string
}

// FirstContainerForService returns any local container whose name stem (the
// segment before the first '.') equals the service name. Matching by name
// stem is deliberate: container ids change across restarts, name stems do
// not.
func (v *View) FirstContainerForService(ctx context.Context) (Container, error) {
	containers, err := v.api.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return Container{}, fmt.Errorf("listing containers: %w", err)
	}

	for _, c := range containers {
		for _, name := range c.Names {
			name = strings.TrimPrefix(name, "/")
			if stem, _, _ := strings.Cut(name, "."); stem == v.service {
				return Container{ID: c.ID, Name: name}, nil
			}
		}
	}
	return Container{}, fmt.Errorf("%w: service %q", ErrNoContainer, v.service)
}

// ExecMongosh runs a mongosh script inside the given container and returns
// the exec's exit code and combined output.
func (v *View) ExecMongosh(ctx context.Context, containerID, script string) (int, string, error) {
	created, err := v.api.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"mongosh", "--quiet", "--eval", script},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return 0, "", fmt.Errorf("creating exec: %w", err)
	}

	att, err := v.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, "", fmt.Errorf("attaching exec: %w", err)
	}
	defer att.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, att.Reader); err != nil {
		return 0, "", fmt.Errorf("reading exec output: %w", err)
	}

	inspect, err := v.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return 0, "", fmt.Errorf("inspecting exec: %w", err)
	}
	return inspect.ExitCode, out.String(), nil
}
