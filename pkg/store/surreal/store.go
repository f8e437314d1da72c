// Package surreal implements store.Store on SurrealDB over the WebSocket RPC
// protocol.
//
// Each entity is a record in a table named after its collection, with the
// record id built from the entity's ObjectID. References at relation paths are
// stored as record links and populated with FETCH, which also reaches links
// inside embedded objects. SurrealDB has no transactions spanning several RPC
// calls, so Transaction runs its callback without atomicity.
package surreal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/embedpop/embedpop/pkg/connection"
	"github.com/embedpop/embedpop/pkg/connection/gorillaws"
	"github.com/embedpop/embedpop/pkg/connection/gws"
	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/logger"
	"github.com/embedpop/embedpop/pkg/models"
	"github.com/embedpop/embedpop/pkg/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	conn   connection.Connection
	owned  bool
	logger logger.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New wraps a connection that is already connected, scoped with Use and
// signed in. The caller owns the connection.
func New(conn connection.Connection, opts ...Option) *Store {
	s := &Store{
		conn:   conn,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to a URL such as ws://root:root@localhost:8000?ns=embedpop.
// The namespace comes from the ns query parameter and defaults to
// constants.DefaultNamespace. Credentials in the URL are used to sign in.
// transport=gws selects the gws connection instead of gorilla's.
func Open(ctx context.Context, rawURL, database string, opts ...Option) (*Store, error) {
	if database == "" {
		return nil, constants.ErrNoDBName
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("embedpop/surreal: parse url: %w", err)
	}
	switch u.Scheme {
	case constants.HTTPScheme:
		u.Scheme = constants.WebsocketScheme
	case constants.HTTPSecureScheme:
		u.Scheme = constants.SecureWSScheme
	}

	namespace := u.Query().Get("ns")
	if namespace == "" {
		namespace = constants.DefaultNamespace
	}

	s := &Store{owned: true, logger: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	cfg := connection.NewConfig(u)
	cfg.Logger = s.logger
	conn, err := newConnection(cfg, u.Query().Get("transport"))
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("embedpop/surreal: connect: %w", err)
	}
	s.conn = conn

	if err := conn.Use(ctx, namespace, database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("embedpop/surreal: use %s/%s: %w", namespace, database, err)
	}

	if u.User != nil {
		pass, _ := u.User.Password()
		if _, err := conn.SignIn(ctx, map[string]any{"user": u.User.Username(), "pass": pass}); err != nil {
			_ = conn.Close(ctx)
			return nil, fmt.Errorf("embedpop/surreal: signin: %w", err)
		}
	}

	s.logger.Info("connected", "namespace", namespace, "database", database)
	return s, nil
}

// newConnection picks the WebSocket transport: gorilla by default, or gws.
func newConnection(cfg *connection.Config, transport string) (connection.Connection, error) {
	switch strings.ToLower(transport) {
	case "", "gorilla":
		return gorillaws.New(cfg), nil
	case "gws":
		return gws.New(cfg), nil
	default:
		return nil, fmt.Errorf("embedpop/surreal: unknown transport %q", transport)
	}
}

func (s *Store) Name() string {
	return "surreal"
}

func (s *Store) Capabilities() store.Capabilities {
	return store.Capabilities{NativeLookup: true}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := connection.Send[any](ctx, s.conn, nil, string(connection.MethodPing)); err != nil {
		return fmt.Errorf("embedpop/surreal: ping: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.conn.Close(ctx)
}

func (s *Store) Insert(ctx context.Context, meta *models.Metadata, doc any) error {
	data, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("embedpop/surreal: encode %s: %w", meta.Name, err)
	}
	raw := bson.Raw(data)

	id, ok := raw.Lookup(constants.PrimaryKeyField).ObjectIDOK()
	if !ok || id.IsZero() {
		return fmt.Errorf("embedpop/surreal: insert %s: document has no %s", meta.Name, constants.PrimaryKeyField)
	}

	content, err := toContent(raw, meta)
	if err != nil {
		return fmt.Errorf("embedpop/surreal: encode %s: %w", meta.Name, err)
	}

	_, err = s.query(ctx, insertStatement, map[string]any{
		"rid":  models.RecordIDFor(meta.Name, id),
		"data": content,
	})
	if err != nil {
		return fmt.Errorf("embedpop/surreal: insert %s: %w", meta.Name, err)
	}
	return nil
}

func (s *Store) FindOne(ctx context.Context, meta *models.Metadata, id models.ObjectID, lookups []store.Lookup) (bson.Raw, error) {
	rows, err := s.query(ctx, selectOne(lookups), map[string]any{
		"rid": models.RecordIDFor(meta.Name, id),
	})
	if err != nil {
		return nil, fmt.Errorf("embedpop/surreal: find %s: %w", meta.Name, err)
	}
	if len(rows) == 0 {
		return nil, constants.ErrNoDocument
	}

	doc, err := fromRecord(rows[0])
	if err != nil {
		return nil, fmt.Errorf("embedpop/surreal: decode %s: %w", meta.Name, err)
	}
	return doc, nil
}

func (s *Store) FindMany(ctx context.Context, meta *models.Metadata, ids []models.ObjectID, lookups []store.Lookup) ([]bson.Raw, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rids := make([]models.RecordID, 0, len(ids))
	for _, id := range ids {
		rids = append(rids, models.RecordIDFor(meta.Name, id))
	}

	rows, err := s.query(ctx, selectMany(lookups), map[string]any{"rids": rids})
	if err != nil {
		return nil, fmt.Errorf("embedpop/surreal: find many %s: %w", meta.Name, err)
	}

	docs := make([]bson.Raw, 0, len(rows))
	for _, row := range rows {
		doc, err := fromRecord(row)
		if err != nil {
			return nil, fmt.Errorf("embedpop/surreal: decode %s: %w", meta.Name, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) Delete(ctx context.Context, meta *models.Metadata, id models.ObjectID) error {
	rows, err := s.query(ctx, deleteStatement, map[string]any{
		"rid": models.RecordIDFor(meta.Name, id),
	})
	if err != nil {
		return fmt.Errorf("embedpop/surreal: delete %s: %w", meta.Name, err)
	}
	if len(rows) == 0 {
		return constants.ErrNoDocument
	}
	return nil
}

func (s *Store) CreateCollection(ctx context.Context, meta *models.Metadata) error {
	if _, err := s.query(ctx, defineTable(meta), nil); err != nil {
		return fmt.Errorf("embedpop/surreal: define %s: %w", meta.Name, err)
	}
	return nil
}

func (s *Store) DropCollection(ctx context.Context, meta *models.Metadata) error {
	if _, err := s.query(ctx, removeTable(meta), nil); err != nil {
		return fmt.Errorf("embedpop/surreal: remove %s: %w", meta.Name, err)
	}
	return nil
}

func (s *Store) EnsureIndexes(ctx context.Context, meta *models.Metadata) error {
	for _, stmt := range defineIndexes(meta) {
		if _, err := s.query(ctx, stmt, nil); err != nil {
			return fmt.Errorf("embedpop/surreal: %s indexes: %w", meta.Name, err)
		}
	}
	return nil
}

// Transaction runs fn directly.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// query runs a single statement and returns its rows.
func (s *Store) query(ctx context.Context, sql string, vars map[string]any) ([]any, error) {
	s.logger.Debug("query", "sql", sql)

	res, err := connection.RunQuery[any](ctx, s.conn, sql, vars)
	if err != nil {
		var qerr *connection.QueryError
		if errors.As(err, &qerr) && isDuplicate(qerr.Message) {
			return nil, fmt.Errorf("%w: %s", constants.ErrDuplicateKey, qerr.Message)
		}
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}

	switch rows := res[0].Result.(type) {
	case nil:
		return nil, nil
	case []any:
		return rows, nil
	default:
		return []any{rows}, nil
	}
}

func isDuplicate(msg string) bool {
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "already contains")
}
