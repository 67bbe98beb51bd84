package swarm

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/cuemby/replicactl/pkg/log"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

type fakeAPI struct {
	services   []swarm.Service
	tasks      []swarm.Task
	nodes      []swarm.Node
	containers []types.Container

	execScript string
	execExit   int
	execOutput string
}

func (f *fakeAPI) ServiceList(ctx context.Context, options types.ServiceListOptions) ([]swarm.Service, error) {
	return f.services, nil
}

func (f *fakeAPI) TaskList(ctx context.Context, options types.TaskListOptions) ([]swarm.Task, error) {
	return f.tasks, nil
}

func (f *fakeAPI) NodeList(ctx context.Context, options types.NodeListOptions) ([]swarm.Node, error) {
	return f.nodes, nil
}

func (f *fakeAPI) ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error) {
	return f.containers, nil
}

func (f *fakeAPI) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error) {
	if len(options.Cmd) == 4 {
		f.execScript = options.Cmd[3]
	}
	return types.IDResponse{ID: "exec-1"}, nil
}

func (f *fakeAPI) ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error) {
	var buf bytes.Buffer
	w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	w.Write([]byte(f.execOutput))
	client, server := net.Pipe()
	server.Close()
	return types.HijackedResponse{Conn: client, Reader: bufio.NewReader(&buf)}, nil
}

func (f *fakeAPI) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	return container.ExecInspect{ExecID: execID, ExitCode: f.execExit}, nil
}

func (f *fakeAPI) Close() error { return nil }

func runningTask(id, nodeID, network, addr string) swarm.Task {
	return swarm.Task{
		ID:     id,
		NodeID: nodeID,
		Status: swarm.TaskStatus{State: swarm.TaskStateRunning},
		NetworksAttachments: []swarm.NetworkAttachment{
			{
				Network:   swarm.Network{Spec: swarm.NetworkSpec{Annotations: swarm.Annotations{Name: network}}},
				Addresses: []string{addr},
			},
		},
	}
}

func TestListTaskAddresses(t *testing.T) {
	api := &fakeAPI{
		tasks: []swarm.Task{
			runningTask("t1", "n1", "backend", "10.0.0.5/24"),
			runningTask("t2", "n2", "backend", "10.0.0.6/24"),
			runningTask("t3", "n3", "frontend", "172.16.0.9/16"),
			{
				ID:     "t4",
				NodeID: "n4",
				Status: swarm.TaskStatus{State: swarm.TaskStateStarting},
				NetworksAttachments: []swarm.NetworkAttachment{
					{
						Network:   swarm.Network{Spec: swarm.NetworkSpec{Annotations: swarm.Annotations{Name: "backend"}}},
						Addresses: []string{"10.0.0.7/24"},
					},
				},
			},
		},
	}
	view := NewWithAPI(api, "mongo", "backend")

	addrs, err := view.ListTaskAddresses(context.Background())
	if err != nil {
		t.Fatalf("ListTaskAddresses() error: %v", err)
	}

	if len(addrs) != 2 {
		t.Fatalf("addresses = %+v, want 2 entries", addrs)
	}
	if addrs[0].IP != "10.0.0.5" || addrs[1].IP != "10.0.0.6" {
		t.Errorf("ips = %s, %s - CIDR suffix not stripped?", addrs[0].IP, addrs[1].IP)
	}
	if addrs[0].ContainerStem != "mongo" {
		t.Errorf("container stem = %q, want mongo", addrs[0].ContainerStem)
	}
}

func TestIsServiceFullyUpGlobal(t *testing.T) {
	node := func(id string, state swarm.NodeState, availability swarm.NodeAvailability) swarm.Node {
		return swarm.Node{
			ID:     id,
			Spec:   swarm.NodeSpec{Availability: availability},
			Status: swarm.NodeStatus{State: state},
		}
	}

	api := &fakeAPI{
		services: []swarm.Service{
			{Spec: swarm.ServiceSpec{
				Annotations: swarm.Annotations{Name: "mongo"},
				Mode:        swarm.ServiceMode{Global: &swarm.GlobalService{}},
			}},
		},
		tasks: []swarm.Task{
			runningTask("t1", "n1", "backend", "10.0.0.5/24"),
			runningTask("t2", "n2", "backend", "10.0.0.6/24"),
		},
		nodes: []swarm.Node{
			node("n1", swarm.NodeStateReady, swarm.NodeAvailabilityActive),
			node("n2", swarm.NodeStateReady, swarm.NodeAvailabilityActive),
			node("n3", swarm.NodeStateDown, swarm.NodeAvailabilityActive),
		},
	}
	view := NewWithAPI(api, "mongo", "backend")

	up, err := view.IsServiceFullyUp(context.Background())
	if err != nil {
		t.Fatalf("IsServiceFullyUp() error: %v", err)
	}
	if !up {
		t.Error("service should be fully up: 2 running tasks on 2 active assigned nodes")
	}
}

func TestIsServiceFullyUpReplicated(t *testing.T) {
	three := uint64(3)
	api := &fakeAPI{
		services: []swarm.Service{
			{Spec: swarm.ServiceSpec{
				Annotations: swarm.Annotations{Name: "mongo"},
				Mode:        swarm.ServiceMode{Replicated: &swarm.ReplicatedService{Replicas: &three}},
			}},
		},
		tasks: []swarm.Task{
			runningTask("t1", "n1", "backend", "10.0.0.5/24"),
			runningTask("t2", "n2", "backend", "10.0.0.6/24"),
		},
	}
	view := NewWithAPI(api, "mongo", "backend")

	up, err := view.IsServiceFullyUp(context.Background())
	if err != nil {
		t.Fatalf("IsServiceFullyUp() error: %v", err)
	}
	if up {
		t.Error("service should not be fully up: 2 of 3 replicas running")
	}
}

func TestIsServiceFullyUpMissingService(t *testing.T) {
	view := NewWithAPI(&fakeAPI{}, "mongo", "backend")

	if _, err := view.IsServiceFullyUp(context.Background()); err == nil {
		t.Fatal("expected error for missing service")
	}
}

func TestFirstContainerForService(t *testing.T) {
	api := &fakeAPI{
		containers: []types.Container{
			{ID: "c1", Names: []string{"/proxy.1.aaaa"}},
			{ID: "c2", Names: []string{"/mongo.1.bbbb"}},
			{ID: "c3", Names: []string{"/mongo.2.cccc"}},
		},
	}
	view := NewWithAPI(api, "mongo", "backend")

	c, err := view.FirstContainerForService(context.Background())
	if err != nil {
		t.Fatalf("FirstContainerForService() error: %v", err)
	}
	if c.ID != "c2" {
		t.Errorf("container = %+v, want first match c2", c)
	}
}

func TestFirstContainerForServiceNoMatch(t *testing.T) {
	api := &fakeAPI{
		containers: []types.Container{
			{ID: "c1", Names: []string{"/mongodb-backup.1.aaaa"}},
		},
	}
	view := NewWithAPI(api, "mongo", "backend")

	if _, err := view.FirstContainerForService(context.Background()); err == nil {
		t.Fatal("stem matching should not match mongodb-backup")
	}
}

func TestExecMongosh(t *testing.T) {
	api := &fakeAPI{execExit: 0, execOutput: "{ ok: 1 }\n"}
	view := NewWithAPI(api, "mongo", "backend")

	exit, output, err := view.ExecMongosh(context.Background(), "c2", "rs.initiate({});")
	if err != nil {
		t.Fatalf("ExecMongosh() error: %v", err)
	}
	if exit != 0 {
		t.Errorf("exit = %d, want 0", exit)
	}
	if output != "{ ok: 1 }\n" {
		t.Errorf("output = %q", output)
	}
	if api.execScript != "rs.initiate({});" {
		t.Errorf("script = %q", api.execScript)
	}
}

func TestWaitUntilFullyUpCancel(t *testing.T) {
	api := &fakeAPI{}
	view := NewWithAPI(api, "mongo", "backend")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := view.WaitUntilFullyUp(ctx); err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled wait should return immediately")
	}
}
