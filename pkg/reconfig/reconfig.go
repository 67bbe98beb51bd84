package reconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/cuemby/replicactl/pkg/log"
	"github.com/cuemby/replicactl/pkg/mongoconn"
	"github.com/cuemby/replicactl/pkg/retry"
	"github.com/cuemby/replicactl/pkg/types"
)

// Bounded retry window for replSetReconfig: primary stepdowns and other
// transient operation failures resolve within a few seconds.
const applyAttempts = 3

// applyDelay is a variable so tests can compress the window.
var applyDelay = 5 * time.Second

// Reconfigurer applies membership changes to a live, authenticated replica
// set through the driver. It is the steady-state counterpart of the
// in-container initiate path: it requires the root user to exist.
type Reconfigurer struct {
	port   int
	cred   *mongoconn.Credential
	dial   mongoconn.Dialer
	logger zerolog.Logger
}

// New creates a Reconfigurer using the given root credentials.
func New(port int, username, password string) *Reconfigurer {
	return &Reconfigurer{
		port:   port,
		cred:   &mongoconn.Credential{Username: username, Password: password, AuthSource: "admin"},
		dial:   mongoconn.Connect,
		logger: log.WithComponent("reconfig"),
	}
}

// NewWithDialer is New with the connection seam replaced; used by tests.
func NewWithDialer(port int, username, password string, dial mongoconn.Dialer) *Reconfigurer {
	r := New(port, username, password)
	r.dial = dial
	return r
}

// CurrentConfig reads the replica-set configuration from ip with root
// credentials.
func (r *Reconfigurer) CurrentConfig(ctx context.Context, ip string) (types.ReplicaSetConfig, error) {
	sess, err := r.dial(ctx, mongoconn.Target{
		Host:       ip,
		Port:       r.port,
		Direct:     true,
		Credential: r.cred,
		Timeouts:   mongoconn.ConfigTimeouts,
	})
	if err != nil {
		return types.ReplicaSetConfig{}, err
	}
	defer sess.Close(ctx)

	var reply struct {
		Config types.ReplicaSetConfig `bson:"config"`
	}
	if err := sess.RunCommand(ctx, "admin", bson.D{{Key: "replSetGetConfig", Value: 1}}, &reply); err != nil {
		return types.ReplicaSetConfig{}, fmt.Errorf("reading config from %s: %w", ip, err)
	}
	return reply.Config, nil
}

// Apply issues replSetReconfig against primaryIP with the given config.
// force bypasses the majority requirement and must be used whenever the old
// primary is being removed, the primary is unknown, or several members
// change in one step. Makes up to 3 attempts, 5 s apart; any command
// failure is retried.
func (r *Reconfigurer) Apply(ctx context.Context, primaryIP string, cfg types.ReplicaSetConfig, force bool) error {
	sess, err := r.dial(ctx, mongoconn.Target{
		Host:       primaryIP,
		Port:       r.port,
		Direct:     true,
		Credential: r.cred,
		Timeouts:   mongoconn.ConfigTimeouts,
	})
	if err != nil {
		return fmt.Errorf("connecting to primary %s: %w", primaryIP, err)
	}
	defer sess.Close(ctx)

	cmd := bson.D{
		{Key: "replSetReconfig", Value: cfg},
		{Key: "force", Value: force},
	}

	attempt := 0
	err = retry.Fixed(ctx, applyAttempts, applyDelay, func() error {
		attempt++
		if err := sess.RunCommand(ctx, "admin", cmd, nil); err != nil {
			r.logger.Warn().
				Err(err).
				Int("attempts_left", applyAttempts-attempt).
				Msg("replSetReconfig failed")
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("applying reconfig via %s: %w", primaryIP, err)
	}

	r.logger.Info().
		Uint32("version", cfg.Version).
		Int("members", len(cfg.Members)).
		Bool("force", force).
		Msg("Applied updated replica set config")
	return nil
}
