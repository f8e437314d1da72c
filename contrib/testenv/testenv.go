// Package testenv provides utilities for testing embedpop against real
// databases.
//
// Live targets are taken from environment variables and skipped when unset,
// so the default test run only uses the memory store. A MongoDB replica set
// suitable for transactions is described in contrib/testenv/docker-compose.yml.
package testenv

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/embedpop/embedpop"
	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/logger"
	"github.com/embedpop/embedpop/pkg/models"
)

const (
	// EnvMongoURL is the environment variable that specifies the MongoDB URL.
	// Transactions need a replica set, e.g.
	// mongodb://localhost:27017,localhost:27018,localhost:27019/?replicaSet=rs
	EnvMongoURL = "EMBEDPOP_MONGO_URL"

	// EnvSurrealURL is the environment variable that specifies the SurrealDB
	// WebSocket URL, e.g. ws://root:root@localhost:8000?ns=embedpop
	EnvSurrealURL = "SURREALDB_URL"

	// MemoryURL selects the in-process store.
	MemoryURL = "memory://"

	// DefaultTimeout bounds every operation of an ORM built here.
	DefaultTimeout = 10 * time.Second
)

// Target is one store the scenario can run against.
type Target struct {
	Name      string
	ClientURL string
}

// Targets returns the memory target followed by every live target whose
// environment variable is set.
func Targets() []Target {
	targets := []Target{{Name: constants.SchemeMemory, ClientURL: MemoryURL}}
	if u := os.Getenv(EnvMongoURL); u != "" {
		targets = append(targets, Target{Name: "mongo", ClientURL: u})
	}
	if u := os.Getenv(EnvSurrealURL); u != "" {
		targets = append(targets, Target{Name: "surreal", ClientURL: surrealURL(u)})
	}
	return targets
}

// surrealURL adds credentials and a namespace when the URL has none, matching
// a SurrealDB started with --user root --pass root.
func surrealURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User == nil {
		u.User = url.UserPassword("root", "root")
	}
	q := u.Query()
	if q.Get("ns") == "" {
		q.Set("ns", "embedpop_test")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// DBName derives a database name unique to one test, so that tests running
// in parallel against the same server do not see each other's collections.
func DBName(testName string) string {
	r := strings.NewReplacer("/", "_", " ", "_", "#", "_", "-", "_")
	name := strings.ToLower(r.Replace(testName))
	if len(name) > 48 {
		name = name[:48]
	}
	return "t_" + name
}

// New initializes an ORM on the target and refreshes its schema.
func New(ctx context.Context, target Target, dbName string, l logger.Logger, entities ...models.Entity) (*embedpop.ORM, error) {
	if len(entities) == 0 {
		return nil, fmt.Errorf("at least one entity must be specified")
	}

	cfg := embedpop.Config{
		ClientURL:            target.ClientURL,
		DBName:               dbName,
		Entities:             entities,
		ImplicitTransactions: true,
		AllowGlobalContext:   true,
		Timeout:              DefaultTimeout,
	}

	opts := []embedpop.Option{}
	if l != nil {
		opts = append(opts, embedpop.WithLogger(l))
	}

	orm, err := embedpop.Init(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init %s: %w", target.Name, err)
	}

	if err := orm.Schema().RefreshDatabase(ctx); err != nil {
		_ = orm.Close(ctx)
		return nil, fmt.Errorf("failed to refresh %s: %w", target.Name, err)
	}
	return orm, nil
}

func MustNew(ctx context.Context, target Target, dbName string, entities ...models.Entity) *embedpop.ORM {
	orm, err := New(ctx, target, dbName, nil, entities...)
	if err != nil {
		panic(fmt.Sprintf("Failed to create ORM: %v", err))
	}
	return orm
}
