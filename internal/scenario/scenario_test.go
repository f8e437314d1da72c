package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/embedpop/embedpop"
	"github.com/embedpop/embedpop/contrib/testenv"
	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/models"
)

type ScenarioTestSuite struct {
	suite.Suite
	target testenv.Target
	orm    *embedpop.ORM
	logs   *bytes.Buffer
}

func TestScenario(t *testing.T) {
	for _, target := range testenv.Targets() {
		target := target
		t.Run(target.Name, func(t *testing.T) {
			suite.Run(t, &ScenarioTestSuite{target: target})
		})
	}
}

func (s *ScenarioTestSuite) SetupTest() {
	ctx := context.Background()
	s.logs = &bytes.Buffer{}

	cfg := Config(s.target.ClientURL, testenv.DBName(s.T().Name()))
	cfg.Timeout = testenv.DefaultTimeout

	orm, err := embedpop.Init(ctx, cfg, embedpop.WithLogger(
		testenv.NewTestLogger(testenv.WithOutput(s.logs), testenv.WithIgnoreDebug()),
	))
	s.Require().NoError(err)
	s.Require().NoError(orm.Schema().RefreshDatabase(ctx))
	s.orm = orm
}

func (s *ScenarioTestSuite) TearDownTest() {
	ctx := context.Background()
	s.Require().NoError(s.orm.Schema().DropSchema(ctx))
	s.Require().NoError(s.orm.Close(ctx))
}

func (s *ScenarioTestSuite) TestEmbeddedManyToManyPopulation() {
	var logs bytes.Buffer
	res, err := Run(context.Background(), s.orm, testenv.NewTestLogger(testenv.WithOutput(&logs)))
	s.Require().NoError(err)
	s.Contains(logs.String(), "INFO: found parent embeddedMember=")
	s.Contains(s.logs.String(), "INFO: schema updated op=create")

	s.Require().NotNil(res.Other)
	s.Equal(OtherName, res.Other.Name)

	embedded := res.Parent.EmbeddedMember
	s.Equal(EmbeddedName, embedded.Name)
	s.True(embedded.OtherEntities.IsInitialized())
	s.Require().Len(embedded.OtherEntities.Items(), 1)
	s.Equal(res.Other.ID, embedded.OtherEntities.Items()[0].ID)
}

func (s *ScenarioTestSuite) TestSerializedIDRoundTrip() {
	ctx := context.Background()
	res, err := Run(ctx, s.orm, nil)
	s.Require().NoError(err)

	em := s.orm.EM().Fork()

	other, err := embedpop.FindOneOrFail[OtherEntity](ctx, em, res.OtherID)
	s.Require().NoError(err)
	s.Equal(res.OtherID, other.ID)
	s.Equal(res.OtherID, other.PK.Hex())

	parent, err := embedpop.FindOneOrFail[ParentEntity](ctx, em, res.ParentID)
	s.Require().NoError(err)
	s.Equal(res.ParentID, parent.ID)
	s.False(parent.EmbeddedMember.OtherEntities.IsInitialized(), "not populated unless asked")
	s.Equal([]models.ObjectID{res.Other.PK}, parent.EmbeddedMember.OtherEntities.IDs())

	owner, err := embedpop.FindOneOrFail[OwnerEntity](ctx, em, res.OwnerID)
	s.Require().NoError(err)
	s.Equal(res.OwnerID, owner.ID)
}

func (s *ScenarioTestSuite) TestEmbeddedRelationResolvesLikeTopLevel() {
	res, err := Run(context.Background(), s.orm, nil)
	s.Require().NoError(err)

	embedded, err := json.Marshal(res.Parent.EmbeddedMember.OtherEntities)
	s.Require().NoError(err)
	topLevel, err := json.Marshal(res.Owner.OtherEntities)
	s.Require().NoError(err)
	s.JSONEq(string(topLevel), string(embedded))
}

func (s *ScenarioTestSuite) TestMissingReferenceIsDropped() {
	ctx := context.Background()
	em := s.orm.EM().Fork()

	kept := NewOtherEntity("kept")
	gone := NewOtherEntity("gone")
	_, err := embedpop.InsertMany(ctx, em, kept, gone)
	s.Require().NoError(err)

	parentID, err := embedpop.Insert(ctx, em, NewParentEntity(EmbeddedName, kept, gone))
	s.Require().NoError(err)

	s.Require().NoError(embedpop.Delete[OtherEntity](ctx, em, gone.ID))

	parent, err := embedpop.FindOneOrFail[ParentEntity](ctx, em, parentID, embedpop.Populate(EmbeddedRelation))
	s.Require().NoError(err)

	items := parent.EmbeddedMember.OtherEntities.Items()
	s.Require().Len(items, 1)
	s.Equal("kept", items[0].Name)
}

func (s *ScenarioTestSuite) TestMissingParent() {
	_, err := embedpop.FindOneOrFail[ParentEntity](context.Background(), s.orm.EM(), models.NewObjectID().Hex())
	s.Require().ErrorIs(err, constants.ErrNotFound)

	var nf *embedpop.NotFoundError
	s.Require().ErrorAs(err, &nf)
	s.Equal(ParentCollection, nf.Entity)
}

func TestVerify(t *testing.T) {
	other := NewOtherEntity(OtherName)
	other.SetPrimaryKey(models.NewObjectID())

	res := &Result{
		Other:  other,
		Parent: NewParentEntity(EmbeddedName, other),
		Owner:  &OwnerEntity{OtherEntities: models.NewCollection(other)},
	}
	require.NoError(t, Verify(res))

	res.Parent.EmbeddedMember.OtherEntities = models.NewReferences[OtherEntity](other.PK)
	err := Verify(res)
	require.ErrorIs(t, err, ErrNotPopulated)
	assert.Contains(t, err.Error(), EmbeddedRelation)

	res.Parent = NewParentEntity(EmbeddedName, other)
	res.Owner.OtherEntities = models.NewCollection[OtherEntity]()
	require.ErrorIs(t, Verify(res), ErrNotPopulated)
}

func TestConfig(t *testing.T) {
	cfg := Config("memory://", "test")
	assert.True(t, cfg.ImplicitTransactions)
	assert.True(t, cfg.AllowGlobalContext)
	assert.Len(t, cfg.Entities, 3)
}
