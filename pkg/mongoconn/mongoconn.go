package mongoconn

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Timeouts bundles the three per-connection driver timeouts.
type Timeouts struct {
	ServerSelection time.Duration
	Connect         time.Duration
	Socket          time.Duration
}

// Probe timeouts for the unauthenticated hello path and the authenticated
// config path. The hello budget is tighter: it runs once per member per
// primary scan and must not stall the loop on a dead node.
var (
	HelloTimeouts  = Timeouts{ServerSelection: 9 * time.Second, Connect: 15 * time.Second, Socket: 15 * time.Second}
	ConfigTimeouts = Timeouts{ServerSelection: 15 * time.Second, Connect: 30 * time.Second, Socket: 30 * time.Second}
	SweepTimeouts  = Timeouts{ServerSelection: 5 * time.Second, Connect: 8 * time.Second, Socket: 8 * time.Second}
)

// Credential carries the root credentials used on authenticated connections.
type Credential struct {
	Username   string
	Password   string
	AuthSource string
}

// Target describes one connection to one member. Direct must be true on
// every probe: with topology discovery enabled the server reports every
// reachable member as a writable primary until the topology converges.
type Target struct {
	Host       string
	Port       int
	Direct     bool
	Credential *Credential
	Timeouts   Timeouts
}

// Session is the thin slice of driver surface the controller uses. Close
// must be called on every exit path.
type Session interface {
	// RunCommand issues cmd against db. When out is non-nil the single
	// result document is decoded into it.
	RunCommand(ctx context.Context, db string, cmd interface{}, out interface{}) error
	// InsertOne inserts doc into db.coll.
	InsertOne(ctx context.Context, db, coll string, doc interface{}) error
	Close(ctx context.Context) error
}

// Dialer opens a Session for a Target. The package-level Connect dials a
// real server; tests substitute fakes that record the Target.
type Dialer func(ctx context.Context, t Target) (Session, error)

// Connect is the production Dialer.
func Connect(ctx context.Context, t Target) (Session, error) {
	opts := options.Client().
		SetHosts([]string{fmt.Sprintf("%s:%d", t.Host, t.Port)}).
		SetDirect(t.Direct).
		SetServerSelectionTimeout(t.Timeouts.ServerSelection).
		SetConnectTimeout(t.Timeouts.Connect).
		SetSocketTimeout(t.Timeouts.Socket)
	if t.Credential != nil {
		source := t.Credential.AuthSource
		if source == "" {
			source = "admin"
		}
		opts = opts.SetAuth(options.Credential{
			Username:   t.Credential.Username,
			Password:   t.Credential.Password,
			AuthSource: source,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s:%d: %w", t.Host, t.Port, err)
	}
	return &session{client: client}, nil
}

type session struct {
	client *mongo.Client
}

func (s *session) RunCommand(ctx context.Context, db string, cmd interface{}, out interface{}) error {
	res := s.client.Database(db).RunCommand(ctx, cmd)
	if out == nil {
		return res.Err()
	}
	return res.Decode(out)
}

func (s *session) InsertOne(ctx context.Context, db, coll string, doc interface{}) error {
	_, err := s.client.Database(db).Collection(coll).InsertOne(ctx, doc)
	return err
}

func (s *session) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
