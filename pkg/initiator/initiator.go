package initiator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/replicactl/pkg/log"
	"github.com/cuemby/replicactl/pkg/retry"
	"github.com/cuemby/replicactl/pkg/rsconfig"
	"github.com/cuemby/replicactl/pkg/swarm"
	"github.com/cuemby/replicactl/pkg/types"
)

// ErrAlreadyInitialized is returned when the shell-side initiate is refused
// with an authentication-required error: the set was initialized in a
// previous deployment and still holds its key material, so the caller must
// hand off to a forced reconfiguration instead.
var ErrAlreadyInitialized = errors.New("replica set already initialized")

// Primary-election wait while creating the root user.
const adminAttempts = 8

// Delays are variables so tests can compress the windows.
var (
	// Grace period between the service reporting fully-up and the first
	// rs.initiate; mongod needs a moment after the socket opens.
	startupSettle = 15 * time.Second

	adminDelay = 10 * time.Second
)

// ContainerExec is the slice of the orchestrator view the initiator needs:
// locating a service container and running mongosh inside it.
type ContainerExec interface {
	FirstContainerForService(ctx context.Context) (swarm.Container, error)
	ExecMongosh(ctx context.Context, containerID, script string) (int, string, error)
}

// Prober supplies the unauthenticated hello probe used to wait out the
// first primary election.
type Prober interface {
	Hello(ctx context.Context, ip string) types.NodeStatus
}

// Initiator performs first-time replica-set initiation and root-user
// creation through an administrative shell inside a service container. The
// in-container path is load-bearing: the very first rs.initiate must happen
// before any user exists, which rules out a credentialed driver connection.
type Initiator struct {
	exec         ContainerExec
	probes       Prober
	setName      string
	port         int
	rootUsername string
	rootPassword string
	logger       zerolog.Logger
}

// New creates an Initiator.
func New(exec ContainerExec, probes Prober, setName string, port int, rootUsername, rootPassword string) *Initiator {
	return &Initiator{
		exec:         exec,
		probes:       probes,
		setName:      setName,
		port:         port,
		rootUsername: rootUsername,
		rootPassword: rootPassword,
		logger:       log.WithComponent("initiator"),
	}
}

// Run initiates a fresh replica set over the given task ips and creates the
// root user. Returns ErrAlreadyInitialized when the shell reports that
// initiation requires authentication, which signals a redeployment of an
// already-initialized set.
func (i *Initiator) Run(ctx context.Context, ips []string) error {
	if len(ips) == 0 {
		return errors.New("no task ips to initiate with")
	}

	cfg := rsconfig.Fresh(i.setName, ips, i.port)
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serialising initial config: %w", err)
	}
	i.logger.Debug().RawJSON("config", cfgJSON).Msg("Initial config built")

	if err := retry.Sleep(ctx, startupSettle); err != nil {
		return err
	}
	i.logger.Info().Msg("Starting replica set initialization")

	target, err := i.exec.FirstContainerForService(ctx)
	if err != nil {
		return fmt.Errorf("locating bootstrap container: %w", err)
	}
	i.logger.Info().Str("container", target.Name).Msg("Found database container for initialization")

	script := fmt.Sprintf("rs.initiate(%s);", cfgJSON)
	exit, output, err := i.exec.ExecMongosh(ctx, target.ID, script)
	if err != nil {
		return fmt.Errorf("running rs.initiate: %w", err)
	}
	if exit != 0 {
		// mongosh output is the only channel here; the auth-required text is
		// the redeployment signal.
		if strings.Contains(output, "requires authentication") {
			i.logger.Info().Msg("Re-deployment detected (authentication required) - forcing re-configuration")
			return ErrAlreadyInitialized
		}
		return fmt.Errorf("rs.initiate failed: %s", strings.TrimSpace(output))
	}
	i.logger.Info().Msg("Initial replica set created")

	return i.createRootUser(ctx, ips[0])
}

// createRootUser waits for the fresh set to elect a primary, then creates
// the root user through mongosh in the first local container whose name stem
// matches the service. That container is not looked up by the primary's ip,
// so it is the primary's container only when the two coincide.
func (i *Initiator) createRootUser(ctx context.Context, bootstrapIP string) error {
	i.logger.Info().Msg("Configuring database admin user")

	for attempt := 1; attempt <= adminAttempts; attempt++ {
		i.logger.Info().
			Int("attempt", attempt).
			Int("attempts", adminAttempts).
			Msg("Waiting for configuration reconciliation")
		if err := retry.Sleep(ctx, adminDelay); err != nil {
			return err
		}

		status := i.probes.Hello(ctx, bootstrapIP)
		if status.State != types.NodeMember || status.PrimaryHost == "" {
			if attempt < 4 {
				// Normal during fresh initialization; elections take time.
				i.logger.Info().Msg("Waiting for primary election to complete")
			} else {
				i.logger.Warn().Msg("Primary still not elected in replica set topology")
			}
			continue
		}

		primaryIP := types.HostIP(status.PrimaryHost)
		target, err := i.exec.FirstContainerForService(ctx)
		if err != nil {
			i.logger.Warn().Err(err).Msg("No container found for service, retrying")
			continue
		}
		return i.execCreateRoot(ctx, target, primaryIP)
	}

	return fmt.Errorf("no primary elected after %d attempts, admin user not created", adminAttempts)
}

func (i *Initiator) execCreateRoot(ctx context.Context, target swarm.Container, primaryIP string) error {
	i.logger.Info().
		Str("container", target.Name).
		Str("primary_ip", primaryIP).
		Msg("Creating admin user on primary container")

	script := fmt.Sprintf(
		"admin = db.getSiblingDB('admin'); admin.createUser({ user: '%s', pwd: '%s', roles: [ 'root' ] });",
		i.rootUsername, i.rootPassword,
	)
	exit, output, err := i.exec.ExecMongosh(ctx, target.ID, script)
	if err != nil {
		return fmt.Errorf("running createUser: %w", err)
	}

	switch {
	case exit == 0:
		i.logger.Info().Msg("Root user created successfully")
		return nil
	case strings.Contains(output, "requires authentication"):
		i.logger.Info().Str("user", i.rootUsername).Msg("Root user already exists - skipping creation")
		return nil
	default:
		return fmt.Errorf("creating root user: %s", strings.TrimSpace(output))
	}
}
