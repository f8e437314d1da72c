package embedpop

import (
	"context"
	"fmt"

	"github.com/embedpop/embedpop/pkg/models"
)

// SchemaManager creates and drops the collections of every registered entity.
// Collections are visited in collection-name order.
type SchemaManager struct {
	orm *ORM
}

// CreateSchema creates every collection. Existing collections are kept.
func (s *SchemaManager) CreateSchema(ctx context.Context) error {
	return s.each(ctx, "create", func(ctx context.Context, meta *models.Metadata) error {
		return s.orm.store.CreateCollection(ctx, meta)
	})
}

// DropSchema drops every collection. Missing collections are ignored.
func (s *SchemaManager) DropSchema(ctx context.Context) error {
	return s.each(ctx, "drop", func(ctx context.Context, meta *models.Metadata) error {
		return s.orm.store.DropCollection(ctx, meta)
	})
}

// EnsureIndexes creates the indexes every entity declares through models.Indexer.
func (s *SchemaManager) EnsureIndexes(ctx context.Context) error {
	return s.each(ctx, "ensure indexes", func(ctx context.Context, meta *models.Metadata) error {
		if len(meta.Indexes) == 0 {
			return nil
		}
		return s.orm.store.EnsureIndexes(ctx, meta)
	})
}

// RefreshDatabase drops and recreates every collection.
func (s *SchemaManager) RefreshDatabase(ctx context.Context) error {
	if err := s.DropSchema(ctx); err != nil {
		return err
	}
	return s.CreateSchema(ctx)
}

func (s *SchemaManager) each(ctx context.Context, op string, fn func(context.Context, *models.Metadata) error) error {
	ctx, cancel := s.orm.withTimeout(ctx)
	defer cancel()

	for _, meta := range s.orm.registry.sorted() {
		if err := fn(ctx, meta); err != nil {
			return fmt.Errorf("embedpop: %s %s: %w", op, meta.Name, err)
		}
		s.orm.logger.Debug("schema", "op", op, "collection", meta.Name)
	}
	s.orm.logger.Info("schema updated", "op", op, "store", s.orm.store.Name())
	return nil
}
