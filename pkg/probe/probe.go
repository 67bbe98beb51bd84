package probe

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/cuemby/replicactl/pkg/log"
	"github.com/cuemby/replicactl/pkg/mongoconn"
	"github.com/cuemby/replicactl/pkg/types"
)

// authWarnCacheSize bounds the set of member ips we have already logged an
// expected auth failure for. Purely a log-noise concern.
const authWarnCacheSize = 128

// Prober classifies the state of individual database members. Every probe
// uses a direct connection: discovery-based connections report every
// reachable member as a writable primary until the topology converges.
type Prober struct {
	port       int
	cred       *mongoconn.Credential
	dial       mongoconn.Dialer
	authWarned *lru.Cache[string, struct{}]
	logger     zerolog.Logger
}

// New creates a Prober that authenticates config reads with the given root
// credentials.
func New(port int, username, password string) *Prober {
	warned, _ := lru.New[string, struct{}](authWarnCacheSize)
	return &Prober{
		port:       port,
		cred:       &mongoconn.Credential{Username: username, Password: password, AuthSource: "admin"},
		dial:       mongoconn.Connect,
		authWarned: warned,
		logger:     log.WithComponent("probe"),
	}
}

// NewWithDialer is New with the connection seam replaced; used by tests.
func NewWithDialer(port int, username, password string, dial mongoconn.Dialer) *Prober {
	p := New(port, username, password)
	p.dial = dial
	return p
}

type helloReply struct {
	IsWritablePrimary bool   `bson:"isWritablePrimary"`
	SetName           string `bson:"setName"`
	Primary           string `bson:"primary"`
}

type getConfigReply struct {
	Config types.ReplicaSetConfig `bson:"config"`
}

// Hello probes ip with an unauthenticated hello command and classifies the
// response. hello is admissible without credentials and carries the needed
// liveness and role signal, so it is the probe of choice whenever the root
// user may not exist yet.
func (p *Prober) Hello(ctx context.Context, ip string) types.NodeStatus {
	return p.hello(ctx, ip, mongoconn.HelloTimeouts)
}

func (p *Prober) hello(ctx context.Context, ip string, t mongoconn.Timeouts) types.NodeStatus {
	sess, err := p.dial(ctx, mongoconn.Target{
		Host:     ip,
		Port:     p.port,
		Direct:   true,
		Timeouts: t,
	})
	if err != nil {
		return types.NodeStatus{State: types.NodeUnreachable, Err: err}
	}
	defer sess.Close(ctx)

	var reply helloReply
	if err := sess.RunCommand(ctx, "admin", bson.D{{Key: "hello", Value: 1}}, &reply); err != nil {
		return p.classifyHelloError(ip, err)
	}

	if reply.SetName == "" {
		return types.NodeStatus{State: types.NodeUninitialized}
	}
	return types.NodeStatus{
		State:             types.NodeMember,
		SetName:           reply.SetName,
		IsWritablePrimary: reply.IsWritablePrimary,
		PrimaryHost:       reply.Primary,
	}
}

func (p *Prober) classifyHelloError(ip string, err error) types.NodeStatus {
	if mongoconn.IsAuthError(err) {
		// hello is normally admissible unauthenticated; log once per node.
		if ok, _ := p.authWarned.ContainsOrAdd(ip, struct{}{}); !ok {
			p.logger.Debug().Str("member_ip", ip).Err(err).
				Msg("Auth not ready (expected during fresh deployment)")
		}
		return types.NodeStatus{State: types.NodeAuthNotReady, Err: err}
	}
	return types.NodeStatus{State: types.NodeUnreachable, Err: err}
}

// GetConfig reads the replica-set configuration from ip with an
// authenticated replSetGetConfig.
func (p *Prober) GetConfig(ctx context.Context, ip string) types.NodeStatus {
	sess, err := p.dial(ctx, mongoconn.Target{
		Host:       ip,
		Port:       p.port,
		Direct:     true,
		Credential: p.cred,
		Timeouts:   mongoconn.ConfigTimeouts,
	})
	if err != nil {
		return types.NodeStatus{State: types.NodeUnreachable, Err: err}
	}
	defer sess.Close(ctx)

	var reply getConfigReply
	err = sess.RunCommand(ctx, "admin", bson.D{{Key: "replSetGetConfig", Value: 1}}, &reply)
	switch {
	case err == nil:
		cfg := reply.Config
		return types.NodeStatus{State: types.NodeConfigured, Config: &cfg}
	case mongoconn.HasCode(err, mongoconn.CodeNotYetInitialized):
		return types.NodeStatus{State: types.NodeNotYetInitialized, Err: err}
	case mongoconn.IsAuthError(err):
		return types.NodeStatus{State: types.NodeAuthNotReady, Err: err}
	default:
		return types.NodeStatus{State: types.NodeUnreachable, Err: err}
	}
}

// FindPrimary probes each ip in order with an unauthenticated hello and
// returns the first member reporting isWritablePrimary, plus the number of
// responders with no set name so callers can recognise the all-uninitialized
// case. An empty string means no writable primary was found.
func (p *Prober) FindPrimary(ctx context.Context, ips []string) (string, int) {
	uninitialized := 0
	for _, ip := range ips {
		p.logger.Info().Str("member_ip", ip).Msg("Checking task for primary")
		status := p.Hello(ctx, ip)
		switch status.State {
		case types.NodeUninitialized:
			uninitialized++
		case types.NodeMember:
			p.logger.Debug().
				Str("member_ip", ip).
				Bool("writable_primary", status.IsWritablePrimary).
				Str("set_name", status.SetName).
				Msg("hello response")
			if status.IsWritablePrimary {
				p.logger.Info().Str("primary_ip", ip).Msg("Replica set primary located")
				return ip, uninitialized
			}
		case types.NodeUnreachable:
			p.logger.Debug().Str("member_ip", ip).Err(status.Err).
				Msg("Cannot connect to member during primary scan")
		}
	}

	if uninitialized == len(ips) && len(ips) > 0 {
		p.logger.Warn().Int("members", len(ips)).
			Msg("All members report no set name - replica set needs initialization")
	} else {
		p.logger.Warn().Int("members", len(ips)).
			Msg("No primary found - set may be initializing or auth not ready")
	}
	return "", uninitialized
}

// AllUninitialized sweeps ips with short-timeout hello probes and reports
// whether every reachable member has no set name. Unreachable members do not
// count either way; an empty or fully unreachable ip set returns false so a
// caller never skips the primary wait on no evidence.
func (p *Prober) AllUninitialized(ctx context.Context, ips []string) bool {
	reachable, uninitialized := 0, 0
	for _, ip := range ips {
		status := p.hello(ctx, ip, mongoconn.SweepTimeouts)
		switch status.State {
		case types.NodeUninitialized:
			reachable++
			uninitialized++
		case types.NodeMember:
			reachable++
		}
	}
	return reachable > 0 && reachable == uninitialized
}
