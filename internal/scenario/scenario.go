// Package scenario maps the entities of the embedded many-to-many check and
// runs it: two inserted documents, then a populated read-back that must
// resolve a relation nested inside an embedded value.
package scenario

import (
	"context"
	"errors"
	"fmt"

	"github.com/embedpop/embedpop"
	"github.com/embedpop/embedpop/pkg/logger"
	"github.com/embedpop/embedpop/pkg/models"
)

const (
	OtherName    = "test"
	EmbeddedName = "embedded-test"
	OwnerName    = "owner-test"
)

// ErrNotPopulated is returned by Run when a populated read-back does not hold
// the referenced entity.
var ErrNotPopulated = errors.New("relation not populated")

// Config returns the mapper configuration the scenario runs with.
func Config(clientURL, dbName string) embedpop.Config {
	return embedpop.Config{
		ClientURL:            clientURL,
		DBName:               dbName,
		Entities:             Entities(),
		ImplicitTransactions: true,
		AllowGlobalContext:   true,
	}
}

// Result holds what Run read back.
type Result struct {
	OtherID  string
	ParentID string
	OwnerID  string

	Other  *OtherEntity
	Parent *ParentEntity
	Owner  *OwnerEntity
}

// Run creates the schema, inserts an OtherEntity and a ParentEntity whose
// embedded value references it, ensures indexes and reads both back through
// the global entity manager. The ParentEntity is read with its embedded
// relation populated. An OwnerEntity holding the same reference at top level
// is read the same way, so both placements can be compared.
func Run(ctx context.Context, orm *embedpop.ORM, log logger.Logger) (*Result, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := orm.Schema().CreateSchema(ctx); err != nil {
		return nil, err
	}

	em := orm.EM()
	res := &Result{}

	var err error
	res.OtherID, err = embedpop.Insert(ctx, em, NewOtherEntity(OtherName))
	if err != nil {
		return nil, fmt.Errorf("insert other: %w", err)
	}

	// the relation is built from the serialized id alone
	ref, err := models.ObjectIDFromHex(res.OtherID)
	if err != nil {
		return nil, err
	}

	res.ParentID, err = embedpop.Insert(ctx, em, &ParentEntity{
		EmbeddedMember: EmbeddedEntity{
			Name:          EmbeddedName,
			OtherEntities: models.NewReferences[OtherEntity](ref),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("insert parent: %w", err)
	}

	res.OwnerID, err = embedpop.Insert(ctx, em, &OwnerEntity{
		Name:          OwnerName,
		OtherEntities: models.NewReferences[OtherEntity](ref),
	})
	if err != nil {
		return nil, fmt.Errorf("insert owner: %w", err)
	}

	if err := orm.Schema().EnsureIndexes(ctx); err != nil {
		return nil, err
	}

	res.Other, err = embedpop.FindOneOrFail[OtherEntity](ctx, em, res.OtherID)
	if err != nil {
		return nil, fmt.Errorf("find other: %w", err)
	}
	log.Info("found other", "entity", res.Other)

	res.Parent, err = embedpop.FindOneOrFail[ParentEntity](ctx, em, res.ParentID,
		embedpop.Populate(EmbeddedRelation))
	if err != nil {
		return nil, fmt.Errorf("find parent: %w", err)
	}
	log.Info("found parent", "embeddedMember", res.Parent.EmbeddedMember)

	res.Owner, err = embedpop.FindOneOrFail[OwnerEntity](ctx, em, res.OwnerID,
		embedpop.Populate(OwnerRelation))
	if err != nil {
		return nil, fmt.Errorf("find owner: %w", err)
	}
	log.Info("found owner", "entity", res.Owner)

	if err := Verify(res); err != nil {
		return res, err
	}
	return res, nil
}

// Verify checks that both populated collections hold exactly the other entity.
func Verify(res *Result) error {
	if err := verifyCollection(EmbeddedRelation, res.Parent.EmbeddedMember.OtherEntities, res.Other); err != nil {
		return err
	}
	return verifyCollection(OwnerRelation, res.Owner.OtherEntities, res.Other)
}

func verifyCollection(path string, c models.Collection[OtherEntity], want *OtherEntity) error {
	if !c.IsInitialized() {
		return fmt.Errorf("%w: %s is not initialized", ErrNotPopulated, path)
	}
	items := c.Items()
	if len(items) != 1 || !c.Contains(want.PK) {
		return fmt.Errorf("%w: %s holds %d items, want %s", ErrNotPopulated, path, len(items), want.ID)
	}
	if items[0].ID != want.ID || items[0].Name != want.Name {
		return fmt.Errorf("%w: %s holds %s(%q), want %s(%q)", ErrNotPopulated, path, items[0].ID, items[0].Name, want.ID, want.Name)
	}
	return nil
}
