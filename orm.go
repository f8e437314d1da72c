package embedpop

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/logger"
	"github.com/embedpop/embedpop/pkg/models"
	"github.com/embedpop/embedpop/pkg/store"
	"github.com/embedpop/embedpop/pkg/store/memory"
	"github.com/embedpop/embedpop/pkg/store/mongo"
	"github.com/embedpop/embedpop/pkg/store/surreal"
)

// ORM holds the entity metadata and the store. It is safe for concurrent use.
type ORM struct {
	cfg       Config
	registry  *registry
	store     store.Store
	ownsStore bool
	logger    logger.Logger
	timeout   time.Duration

	em     *EntityManager
	schema *SchemaManager
}

// Init discovers the metadata of cfg.Entities, opens the store selected by
// cfg.ClientURL (unless WithStore is given) and pings it.
func Init(ctx context.Context, cfg Config, opts ...Option) (*ORM, error) {
	o := &ORM{
		cfg:     cfg,
		timeout: cfg.Timeout,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(o.store != nil); err != nil {
		return nil, err
	}

	if o.logger == nil {
		o.logger = defaultLogger(cfg.Debug)
	}

	reg, err := newRegistry(cfg.Entities)
	if err != nil {
		return nil, err
	}
	o.registry = reg

	if o.store == nil {
		s, err := openStore(ctx, cfg, o.logger)
		if err != nil {
			return nil, err
		}
		o.store = s
		o.ownsStore = true
	}

	if err := o.store.Ping(ctx); err != nil {
		if o.ownsStore {
			_ = o.store.Close(ctx)
		}
		return nil, err
	}

	o.em = &EntityManager{orm: o, global: true}
	o.schema = &SchemaManager{orm: o}

	o.logger.Info("orm initialized",
		"store", o.store.Name(),
		"entities", len(reg.byName),
		"implicitTransactions", cfg.ImplicitTransactions,
		"allowGlobalContext", cfg.AllowGlobalContext,
	)
	return o, nil
}

func defaultLogger(debug bool) logger.Logger {
	if !debug {
		return logger.Nop()
	}
	l, err := logger.New().FromBuffer(os.Stderr).Debug(true).Make()
	if err != nil {
		return logger.Nop()
	}
	return l
}

// openStore picks the store implementation from the scheme of cfg.ClientURL.
func openStore(ctx context.Context, cfg Config, l logger.Logger) (store.Store, error) {
	u, err := url.Parse(cfg.ClientURL)
	if err != nil {
		return nil, fmt.Errorf("embedpop: parse client url: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	l.Debug("opening store", "scheme", scheme, "database", cfg.DBName)

	switch scheme {
	case constants.SchemeMongo, constants.SchemeMongoSRV:
		return mongo.Open(ctx, cfg.ClientURL, cfg.DBName, mongo.WithLogger(l))
	case constants.WebsocketScheme, constants.SecureWSScheme, constants.HTTPScheme, constants.HTTPSecureScheme:
		return surreal.Open(ctx, cfg.ClientURL, cfg.DBName, surreal.WithLogger(l))
	case constants.SchemeMemory:
		return memory.New(memory.WithLogger(l)), nil
	default:
		return nil, fmt.Errorf("%w: %q", constants.ErrUnsupportedScheme, u.Scheme)
	}
}

// EM returns the global entity manager. See Config.AllowGlobalContext.
func (o *ORM) EM() *EntityManager {
	return o.em
}

func (o *ORM) Schema() *SchemaManager {
	return o.schema
}

func (o *ORM) Store() store.Store {
	return o.store
}

func (o *ORM) Logger() logger.Logger {
	return o.logger
}

func (o *ORM) Config() Config {
	return o.cfg
}

// Metadata returns the metadata of every registered entity, ordered by collection name.
func (o *ORM) Metadata() []*models.Metadata {
	return o.registry.sorted()
}

// Close closes the store when Init opened it.
func (o *ORM) Close(ctx context.Context) error {
	if !o.ownsStore {
		return nil
	}
	o.logger.Debug("closing store", "store", o.store.Name())
	return o.store.Close(ctx)
}

func (o *ORM) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.timeout)
}
