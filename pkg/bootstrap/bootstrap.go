package bootstrap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/cuemby/replicactl/pkg/log"
	"github.com/cuemby/replicactl/pkg/mongoconn"
)

// PrimaryFinder locates the writable primary among a set of member ips.
type PrimaryFinder interface {
	FindPrimary(ctx context.Context, ips []string) (string, int)
}

// Bootstrapper creates the application user and its marker document in the
// application database after a fresh initiation. It runs once; "user already
// exists" is success, and any other failure is logged and dropped - the set
// itself is already usable.
type Bootstrapper struct {
	primaries PrimaryFinder
	port      int
	rootCred  *mongoconn.Credential
	dial      mongoconn.Dialer
	database  string
	user      string
	password  string
	logger    zerolog.Logger
}

// New creates a Bootstrapper.
func New(primaries PrimaryFinder, port int, rootUsername, rootPassword, database, user, password string) *Bootstrapper {
	return &Bootstrapper{
		primaries: primaries,
		port:      port,
		rootCred:  &mongoconn.Credential{Username: rootUsername, Password: rootPassword, AuthSource: "admin"},
		dial:      mongoconn.Connect,
		database:  database,
		user:      user,
		password:  password,
		logger:    log.WithComponent("bootstrap"),
	}
}

// NewWithDialer is New with the connection seam replaced; used by tests.
func NewWithDialer(primaries PrimaryFinder, port int, rootUsername, rootPassword, database, user, password string, dial mongoconn.Dialer) *Bootstrapper {
	b := New(primaries, port, rootUsername, rootPassword, database, user, password)
	b.dial = dial
	return b
}

// Run locates the primary among memberIPs and sets up the application
// database: a dbOwner user plus a marker document in the users collection.
func (b *Bootstrapper) Run(ctx context.Context, memberIPs []string) error {
	primaryIP, _ := b.primaries.FindPrimary(ctx, memberIPs)
	if primaryIP == "" {
		return fmt.Errorf("no primary found, initial user and database setup cannot be completed")
	}

	sess, err := b.dial(ctx, mongoconn.Target{
		Host:       primaryIP,
		Port:       b.port,
		Direct:     true,
		Credential: b.rootCred,
		Timeouts:   mongoconn.ConfigTimeouts,
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("Could not connect to primary for initial database setup")
		return nil
	}
	defer sess.Close(ctx)

	b.logger.Info().
		Str("user", b.user).
		Str("database", b.database).
		Str("primary_ip", primaryIP).
		Msg("Creating initial user")

	createUser := bson.D{
		{Key: "createUser", Value: b.user},
		{Key: "pwd", Value: b.password},
		{Key: "roles", Value: bson.A{"dbOwner"}},
	}
	if err := sess.RunCommand(ctx, b.database, createUser, nil); err != nil {
		if mongoconn.HasCode(err, mongoconn.CodeUserAlreadyExists) {
			b.logger.Info().Str("user", b.user).Msg("User already exists, no action needed")
			return nil
		}
		b.logger.Error().Err(err).Msg("Initial database setup failed")
		return nil
	}
	b.logger.Info().Str("user", b.user).Msg("User created successfully")

	if err := sess.InsertOne(ctx, b.database, "users", bson.M{"name": b.user}); err != nil {
		b.logger.Error().Err(err).Msg("Inserting marker document failed")
		return nil
	}
	b.logger.Info().Msg("Initial database and user setup completed")
	return nil
}
