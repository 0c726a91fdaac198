package dss

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

var (
	globalEnv     Environment
	globalEnvLock sync.RWMutex
)

// GetEnvironment returns the global application level environment. This
// implementation is thread safe, but must be configured before use.
//
// In general you should call SetEnvironment once per process execution and
// pass the Environment interface through your application like a context,
// although the model packages access the global environment directly.
func GetEnvironment() Environment {
	globalEnvLock.RLock()
	defer globalEnvLock.RUnlock()

	return globalEnv
}

func SetEnvironment(env Environment) {
	globalEnvLock.Lock()
	defer globalEnvLock.Unlock()

	globalEnv = env
}

// Environment provides application-level services, chiefly access to the
// shared simulations database that all processes coordinate through.
type Environment interface {
	// Settings returns the settings object. The settings object is not
	// necessarily safe for concurrent access.
	Settings() *Settings

	Client() *mongo.Client
	DB() *mongo.Database

	// Close releases the database connection. The environment cannot be
	// used afterwards.
	Close(context.Context) error
}

// NewEnvironment constructs an Environment instance, establishing a new
// connection to the database.
//
// NewEnvironment requires that either the settings file path or DB settings
// are specified. If both are, the settings are read from the file.
func NewEnvironment(ctx context.Context, confPath string, db *DBSettings) (Environment, error) {
	e := &envState{}

	if confPath != "" {
		settings, err := NewSettings(confPath)
		if err != nil {
			return nil, errors.Wrap(err, "getting settings from file")
		}
		e.settings = settings
	} else if db != nil {
		e.settings = &Settings{Database: *db}
	}
	if e.settings == nil {
		return nil, errors.New("either a settings file or database settings must be specified")
	}

	if err := e.settings.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating settings")
	}

	if err := e.initDB(ctx, e.settings.Database); err != nil {
		return nil, errors.Wrap(err, "configuring db")
	}

	return e, nil
}

type envState struct {
	settings *Settings
	client   *mongo.Client
	mu       sync.RWMutex
}

func (e *envState) initDB(ctx context.Context, settings DBSettings) error {
	opts := options.Client().ApplyURI(settings.Url).
		SetReadPreference(readpref.Primary())
	if settings.WriteConcernMajority {
		opts.SetWriteConcern(writeconcern.Majority())
	}
	if settings.ConnectTimeout > 0 {
		opts.SetConnectTimeout(settings.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return errors.Wrap(err, "connecting to the database")
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout(settings))
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return errors.Wrap(err, "pinging the database")
	}

	e.client = client
	return nil
}

func pingTimeout(settings DBSettings) time.Duration {
	if settings.ConnectTimeout > 0 {
		return settings.ConnectTimeout
	}
	return 10 * time.Second
}

func (e *envState) Settings() *Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.settings
}

func (e *envState) Client() *mongo.Client {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.client
}

func (e *envState) DB() *mongo.Database {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.client.Database(e.settings.Database.DB)
}

func (e *envState) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client == nil {
		return nil
	}

	err := e.client.Disconnect(ctx)
	e.client = nil
	return errors.Wrap(err, "disconnecting from the database")
}
