package initiator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/replicactl/pkg/log"
	"github.com/cuemby/replicactl/pkg/swarm"
	"github.com/cuemby/replicactl/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
	startupSettle = time.Millisecond
	adminDelay = time.Millisecond
}

type execCall struct {
	containerID string
	script      string
}

type fakeExec struct {
	container swarm.Container
	findErr   error

	// scripted results keyed by script prefix
	initExit   int
	initOutput string
	userExit   int
	userOutput string

	calls []execCall
}

func (f *fakeExec) FirstContainerForService(ctx context.Context) (swarm.Container, error) {
	if f.findErr != nil {
		return swarm.Container{}, f.findErr
	}
	return f.container, nil
}

func (f *fakeExec) ExecMongosh(ctx context.Context, containerID, script string) (int, string, error) {
	f.calls = append(f.calls, execCall{containerID: containerID, script: script})
	if strings.HasPrefix(script, "rs.initiate") {
		return f.initExit, f.initOutput, nil
	}
	return f.userExit, f.userOutput, nil
}

type fakeProber struct {
	status types.NodeStatus
}

func (f *fakeProber) Hello(ctx context.Context, ip string) types.NodeStatus {
	return f.status
}

func newTestInitiator(exec *fakeExec, probes *fakeProber) *Initiator {
	return New(exec, probes, "rs0", 27017, "admin", "secret")
}

func TestRunInitiatesAndCreatesRoot(t *testing.T) {
	exec := &fakeExec{container: swarm.Container{ID: "c2", Name: "mongo.1.bbbb"}}
	probes := &fakeProber{status: types.NodeStatus{
		State:             types.NodeMember,
		SetName:           "rs0",
		IsWritablePrimary: true,
		PrimaryHost:       "10.0.0.5:27017",
	}}

	err := newTestInitiator(exec, probes).Run(context.Background(), []string{"10.0.0.5", "10.0.0.6", "10.0.0.7"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(exec.calls) != 2 {
		t.Fatalf("exec calls = %+v, want initiate + createUser", exec.calls)
	}

	initiate := exec.calls[0]
	if initiate.containerID != "c2" {
		t.Errorf("initiate ran in %q, want c2", initiate.containerID)
	}
	for _, want := range []string{
		`"_id":"rs0"`,
		`"version":1`,
		`"host":"10.0.0.5:27017"`,
		`"host":"10.0.0.6:27017"`,
		`"host":"10.0.0.7:27017"`,
	} {
		if !strings.Contains(initiate.script, want) {
			t.Errorf("initiate script %q missing %q", initiate.script, want)
		}
	}

	createUser := exec.calls[1]
	if !strings.Contains(createUser.script, "createUser") ||
		!strings.Contains(createUser.script, "'admin'") ||
		!strings.Contains(createUser.script, "'root'") {
		t.Errorf("createUser script = %q", createUser.script)
	}
}

func TestRunDetectsRedeployment(t *testing.T) {
	exec := &fakeExec{
		container:  swarm.Container{ID: "c2", Name: "mongo.1.bbbb"},
		initExit:   1,
		initOutput: "MongoServerError: command replSetInitiate requires authentication",
	}
	probes := &fakeProber{}

	err := newTestInitiator(exec, probes).Run(context.Background(), []string{"10.0.1.5"})
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("err = %v, want ErrAlreadyInitialized", err)
	}
	if len(exec.calls) != 1 {
		t.Error("no root-user attempt should follow a redeployment signal")
	}
}

func TestRunInitiateFailure(t *testing.T) {
	exec := &fakeExec{
		container:  swarm.Container{ID: "c2", Name: "mongo.1.bbbb"},
		initExit:   1,
		initOutput: "MongoServerError: Invalid replica set config",
	}

	err := newTestInitiator(exec, &fakeProber{}).Run(context.Background(), []string{"10.0.0.5"})
	if err == nil || errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("err = %v, want plain initiation failure", err)
	}
}

func TestRunRootUserAlreadyExists(t *testing.T) {
	exec := &fakeExec{
		container:  swarm.Container{ID: "c2", Name: "mongo.1.bbbb"},
		userExit:   1,
		userOutput: "MongoServerError: Command createUser requires authentication",
	}
	probes := &fakeProber{status: types.NodeStatus{
		State:       types.NodeMember,
		SetName:     "rs0",
		PrimaryHost: "10.0.0.5:27017",
	}}

	if err := newTestInitiator(exec, probes).Run(context.Background(), []string{"10.0.0.5"}); err != nil {
		t.Fatalf("existing root user must be treated as success, got %v", err)
	}
}

func TestRunGivesUpWithoutPrimary(t *testing.T) {
	exec := &fakeExec{container: swarm.Container{ID: "c2", Name: "mongo.1.bbbb"}}
	probes := &fakeProber{status: types.NodeStatus{State: types.NodeUninitialized}}

	err := newTestInitiator(exec, probes).Run(context.Background(), []string{"10.0.0.5"})
	if err == nil {
		t.Fatal("Run() should fail when no primary is ever elected")
	}
	if len(exec.calls) != 1 {
		t.Errorf("exec calls = %d, want only the initiate", len(exec.calls))
	}
}

func TestRunNoTasks(t *testing.T) {
	err := newTestInitiator(&fakeExec{}, &fakeProber{}).Run(context.Background(), nil)
	if err == nil {
		t.Fatal("Run() should fail with no task ips")
	}
}
