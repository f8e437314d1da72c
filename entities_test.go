package embedpop_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embedpop/embedpop"
	"github.com/embedpop/embedpop/pkg/models"
	"github.com/embedpop/embedpop/pkg/store/memory"
)

type tag struct {
	models.BaseEntity `bson:",inline"`
	Label             string `bson:"label" json:"label"`
}

func (*tag) CollectionName() string { return "tag" }

func (*tag) Relations() []models.Relation { return nil }

func (*tag) Indexes() []models.Index {
	return []models.Index{{Name: "tag_label", Keys: []string{"label"}, Unique: true}}
}

type details struct {
	Title string                 `bson:"title"`
	Tags  models.Collection[tag] `bson:"tags"`
}

type article struct {
	models.BaseEntity `bson:",inline"`
	Details           details                `bson:"details"`
	Related           models.Collection[tag] `bson:"related"`
}

func (*article) CollectionName() string { return "article" }

func (*article) Relations() []models.Relation {
	return []models.Relation{
		{Path: "details.tags", Target: "tag", Kind: models.ManyToMany},
		{Path: "related", Target: "tag", Kind: models.ManyToMany},
	}
}

// unregistered is never passed to Init.
type unregistered struct {
	models.BaseEntity `bson:",inline"`
}

func (*unregistered) CollectionName() string { return "unregistered" }

func (*unregistered) Relations() []models.Relation { return nil }

type relationDecl struct {
	models.BaseEntity `bson:",inline"`
	Details           details `bson:"details"`
	rels              []models.Relation
}

func (*relationDecl) CollectionName() string { return "decl" }

func (r *relationDecl) Relations() []models.Relation { return r.rels }

type noIdentity struct {
	Name string
}

func (noIdentity) CollectionName() string { return "no_identity" }

func (noIdentity) Relations() []models.Relation { return nil }

type env struct {
	orm   *embedpop.ORM
	store *memory.Store
	em    *embedpop.EntityManager
}

func newEnv(t *testing.T, mutate ...func(*embedpop.Config)) *env {
	t.Helper()
	ctx := context.Background()

	cfg := embedpop.Config{
		DBName:               "test",
		Entities:             []models.Entity{&article{}, &tag{}},
		ImplicitTransactions: true,
		AllowGlobalContext:   false,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	st := memory.New()
	orm, err := embedpop.Init(ctx, cfg, embedpop.WithStore(st))
	require.NoError(t, err)
	require.NoError(t, orm.Schema().CreateSchema(ctx))
	require.NoError(t, orm.Schema().EnsureIndexes(ctx))
	t.Cleanup(func() {
		require.NoError(t, orm.Close(context.Background()))
	})

	return &env{orm: orm, store: st, em: orm.EM().Fork()}
}
