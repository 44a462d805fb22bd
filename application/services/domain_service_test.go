package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Cix-16/opencti/domain/config"
	"github.com/Cix-16/opencti/domain/core/entities"
	"github.com/Cix-16/opencti/domain/events"
	"github.com/Cix-16/opencti/pkg/common"
	"github.com/Cix-16/opencti/pkg/errors"
)

func TestAdd_ThreatReportEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.seedUser(t, "U1")
	m1 := f.seedMarking(t, "TLP:GREEN")
	m2 := f.seedMarking(t, "TLP:AMBER")
	f.expectPublish("Workspace.added").Once()
	ws := f.workspaces(t)

	created, err := ws.Add(ctx, u1, AddEntityInput{
		Name:        "Threat Report Q1",
		Description: "first quarter",
		MarkingIDs:  []string{m1.ID, m2.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, "Threat Report Q1", created.Name)
	assert.Equal(t, config.TypeWorkspace, created.EntityType)
	assert.Equal(t, "2019-01-15", created.CreatedAtDay)

	owner, err := ws.OwnedBy(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, u1.ID, owner.ID)

	markings, err := ws.MarkingDefinitions(ctx, created.ID, common.PaginationArgs{WithCount: true})
	require.NoError(t, err)
	var ids []string
	for _, edge := range markings.Edges {
		ids = append(ids, edge.Node.ID)
		require.NotNil(t, edge.Relation)
		assert.Equal(t, config.RelationObjectMarkingRefs, edge.Relation.RelationshipType)
	}
	assert.ElementsMatch(t, []string{m1.ID, m2.ID}, ids)
	assert.Equal(t, 2, *markings.PageInfo.GlobalCount)

	f.publisher.AssertExpectations(t)
	published := f.publisher.published()
	require.Len(t, published, 1)
	n := published[0]
	assert.Equal(t, "Workspace.added", n.Topic)
	assert.Equal(t, events.KindAdded, n.Kind)
	require.NotNil(t, n.User)
	assert.Equal(t, u1.ID, n.User.ID)

	var instance map[string]interface{}
	require.NoError(t, json.Unmarshal(n.Instance, &instance))
	assert.Equal(t, created.ID, instance["id"])
	assert.Equal(t, "Threat Report Q1", instance["name"])
}

func TestAdd_FailedTransactionSendsNothing(t *testing.T) {
	f := newFixture(t)
	u1 := f.seedUser(t, "U1")
	m1 := f.seedMarking(t, "TLP:GREEN")
	nodes := f.store.NodeCount()

	_, err := f.workspaces(t).Add(context.Background(), u1, AddEntityInput{
		Name:       "Threat Report Q1",
		MarkingIDs: []string{m1.ID, "missing-marking"},
	})
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, nodes, f.store.NodeCount())
	assert.Equal(t, 0, f.store.RelationCount())
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdd_ValidationOpensNoTransaction(t *testing.T) {
	f := newFixture(t)
	u1 := f.seedUser(t, "U1")
	ws := f.workspaces(t)
	before := *f.writes

	cases := map[string]AddEntityInput{
		"missing name":       {Description: "no name"},
		"duplicate markings": {Name: "w", MarkingIDs: []string{"m1", "m1"}},
		"empty marking id":   {Name: "w", MarkingIDs: []string{""}},
		"bad attribute key":  {Name: "w", Attributes: map[string]interface{}{"Bad Key": 1}},
		"system attribute":   {Name: "w", Attributes: map[string]interface{}{"created_at": "2000"}},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ws.Add(context.Background(), u1, input)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}

	_, err := ws.Add(context.Background(), nil, AddEntityInput{Name: "w"})
	assert.True(t, errors.IsUnauthorized(err))

	assert.Equal(t, before, *f.writes)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdd_NotificationFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	u1 := f.seedUser(t, "U1")
	f.publisher.On("Publish", mock.Anything, "Workspace.added", mock.Anything).Return(fmt.Errorf("bus down")).Once()

	created, err := f.workspaces(t).Add(context.Background(), u1, AddEntityInput{Name: "w"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	f.publisher.AssertExpectations(t)
}

func TestAdd_TypeWithoutOwner(t *testing.T) {
	f := newFixture(t)
	f.expectPublish("Malware.added").Once()

	created, err := f.service(t, config.TypeMalware).Add(context.Background(), nil, AddEntityInput{
		Name:       "BlackEnergy",
		Attributes: map[string]interface{}{"aliases": []interface{}{"BE2", "BE3"}},
	})
	require.NoError(t, err)
	assert.Equal(t, config.TypeMalware, created.EntityType)
	assert.Equal(t, 0, f.store.RelationCount())
}

func TestFindByID_OtherTypeIsNotFound(t *testing.T) {
	f := newFixture(t)
	malware := f.seed(t, config.TypeMalware, map[string]interface{}{"name": "x"})

	_, err := f.service(t, config.TypeWorkspace).FindByID(context.Background(), malware.ID)
	assert.True(t, errors.IsNotFound(err))

	got, err := f.service(t, config.TypeMalware).FindByID(context.Background(), malware.ID)
	require.NoError(t, err)
	assert.Equal(t, malware.ID, got.ID)

	_, err = f.service(t, config.TypeMalware).FindByID(context.Background(), "")
	assert.True(t, errors.IsValidation(err))
}

func TestFindAll(t *testing.T) {
	f := newFixture(t)
	f.seed(t, config.TypeWorkspace, map[string]interface{}{"name": "b"})
	f.seed(t, config.TypeWorkspace, map[string]interface{}{"name": "a"})
	f.seed(t, config.TypeMalware, map[string]interface{}{"name": "c"})

	conn, err := f.service(t, config.TypeWorkspace).FindAll(context.Background(), common.PaginationArgs{})
	require.NoError(t, err)
	require.Len(t, conn.Edges, 2)
	assert.Equal(t, "a", conn.Edges[0].Node.Name)
	assert.Equal(t, "b", conn.Edges[1].Node.Name)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.seedUser(t, "U1")
	ws := f.seed(t, config.TypeWorkspace, map[string]interface{}{"name": "w"})
	f.expectPublish("Workspace.edited").Once()
	svc := f.service(t, config.TypeWorkspace)

	id, err := svc.Delete(ctx, u1, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, ws.ID, id)

	_, err = svc.Delete(ctx, u1, ws.ID)
	assert.True(t, errors.IsNotFound(err))

	f.publisher.AssertExpectations(t)
	published := f.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, events.KindDeleted, published[0].Kind)
	assert.JSONEq(t, fmt.Sprintf(`{"id":%q}`, ws.ID), string(published[0].Instance))
}

func TestAddRelationAndDeleteRelation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.seedUser(t, "U1")
	ws := f.seed(t, config.TypeWorkspace, map[string]interface{}{"name": "w"})
	malware := f.seed(t, config.TypeMalware, map[string]interface{}{"name": "BlackEnergy"})
	f.expectPublish("Workspace.edited").Twice()
	svc := f.service(t, config.TypeWorkspace)

	added, err := svc.AddRelation(ctx, u1, ws.ID, RelationAddInput{ToID: malware.ID, Through: config.RelationObjectRefs})
	require.NoError(t, err)
	assert.Equal(t, ws.ID, added.Node.ID)
	assert.Equal(t, "knowledge_aggregation", added.Relation.FromRole)
	assert.Equal(t, "so", added.Relation.ToRole)

	refs, err := f.workspaces(t).ObjectRefs(ctx, ws.ID, common.PaginationArgs{})
	require.NoError(t, err)
	require.Len(t, refs.Edges, 1)
	assert.Equal(t, malware.ID, refs.Edges[0].Node.ID)

	deleted, err := svc.DeleteRelation(ctx, u1, ws.ID, added.Relation.ID)
	require.NoError(t, err)
	assert.Equal(t, added.Relation.ID, deleted.Relation.ID)
	assert.Equal(t, 0, f.store.RelationCount())

	f.publisher.AssertExpectations(t)
}

func TestAddRelation_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.seedUser(t, "U1")
	ws := f.seed(t, config.TypeWorkspace, map[string]interface{}{"name": "w"})
	svc := f.service(t, config.TypeWorkspace)
	before := *f.writes

	_, err := svc.AddRelation(ctx, u1, ws.ID, RelationAddInput{ToID: u1.ID, Through: "gathering"})
	assert.True(t, errors.IsValidation(err))

	_, err = svc.AddRelation(ctx, u1, ws.ID, RelationAddInput{ToID: u1.ID, Through: config.RelationOwnedBy, FromRole: "owner"})
	assert.True(t, errors.IsValidation(err))

	_, err = svc.AddRelation(ctx, u1, ws.ID, RelationAddInput{ToID: ws.ID, Through: config.RelationObjectRefs})
	assert.True(t, errors.IsValidation(err), "self relation")
	assert.Equal(t, before, *f.writes)

	// a user is not a Stix-Domain-Entity
	_, err = svc.AddRelation(ctx, u1, ws.ID, RelationAddInput{ToID: u1.ID, Through: config.RelationObjectRefs})
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 0, f.store.RelationCount())

	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestAddRelations_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.seedUser(t, "U1")
	ws := f.seed(t, config.TypeWorkspace, map[string]interface{}{"name": "w"})
	m1 := f.seedMarking(t, "TLP:GREEN")
	m2 := f.seedMarking(t, "TLP:RED")
	svc := f.service(t, config.TypeWorkspace)

	_, err := svc.AddRelations(ctx, u1, ws.ID, RelationsAddInput{
		ToIDs:   []string{m1.ID, "missing", m2.ID},
		Through: config.RelationObjectMarkingRefs,
	})
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 0, f.store.RelationCount())
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)

	f.expectPublish("Workspace.edited").Once()
	node, err := svc.AddRelations(ctx, u1, ws.ID, RelationsAddInput{
		ToIDs:    []string{m1.ID, m2.ID},
		FromRole: "so",
		ToRole:   "marking",
		Through:  config.RelationObjectMarkingRefs,
	})
	require.NoError(t, err)
	assert.Equal(t, ws.ID, node.ID)
	assert.Equal(t, 2, f.store.RelationCount())

	_, err = svc.AddRelations(ctx, u1, ws.ID, RelationsAddInput{Through: config.RelationObjectMarkingRefs})
	assert.True(t, errors.IsValidation(err))
	f.publisher.AssertExpectations(t)
}

func TestDeleteRelation_ForeignRelationIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.seedUser(t, "U1")
	ws := f.seed(t, config.TypeWorkspace, map[string]interface{}{"name": "w"})
	other := f.seed(t, config.TypeWorkspace, map[string]interface{}{"name": "other"})
	m1 := f.seedMarking(t, "TLP:GREEN")
	rel, err := f.repo.CreateRelation(ctx, other.ID, entities.RelationSpec{
		ToID: m1.ID, RelationType: config.RelationObjectMarkingRefs, FromRole: "so", ToRole: "marking",
	})
	require.NoError(t, err)

	_, err = f.service(t, config.TypeWorkspace).DeleteRelation(ctx, u1, ws.ID, rel.ID)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 1, f.store.RelationCount())
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestEditField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.seedUser(t, "U1")
	ws := f.seed(t, config.TypeWorkspace, map[string]interface{}{"name": "w"})
	f.expectPublish("Workspace.edited").Once()
	svc := f.service(t, config.TypeWorkspace)

	f.clock.Advance(time.Hour)
	updated, err := svc.EditField(ctx, u1, ws.ID, entities.AttributeEdit{Key: "description", Value: "edited"})
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Description)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	_, err = svc.EditField(ctx, u1, ws.ID, entities.AttributeEdit{Key: "name", Value: ""})
	assert.True(t, errors.IsValidation(err))
	_, err = svc.EditField(ctx, u1, ws.ID, entities.AttributeEdit{Key: "updated_at", Value: "x"})
	assert.True(t, errors.IsValidation(err))
	_, err = svc.EditField(ctx, u1, "missing", entities.AttributeEdit{Key: "description", Value: "x"})
	assert.True(t, errors.IsNotFound(err))

	f.publisher.AssertExpectations(t)
	published := f.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, events.KindEdited, published[0].Kind)
}

func TestEditContextLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.seedUser(t, "U1")
	u2 := f.seedUser(t, "U2")
	ws := f.seed(t, config.TypeWorkspace, map[string]interface{}{"name": "w"})
	f.expectPublish("Workspace.edited")
	svc := f.service(t, config.TypeWorkspace)

	_, err := svc.EditContext(ctx, u1, ws.ID, entities.EditInput{FocusOn: "description"})
	require.NoError(t, err)
	_, err = svc.EditContext(ctx, u2, ws.ID, entities.EditInput{FocusOn: "name"})
	require.NoError(t, err)

	live, err := svc.EditContexts(ctx, ws.ID)
	require.NoError(t, err)
	require.Len(t, live, 2)

	_, err = svc.CleanContext(ctx, u2, ws.ID)
	require.NoError(t, err)
	live, err = svc.EditContexts(ctx, ws.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, u1.ID, live[0].UserID)
	assert.Equal(t, "description", live[0].FocusOn)

	f.clock.Advance(config.DefaultDomainConfig().EditContextTTL)
	live, err = svc.EditContexts(ctx, ws.ID)
	require.NoError(t, err)
	assert.Empty(t, live)

	for _, n := range f.publisher.published() {
		assert.Equal(t, events.KindContext, n.Kind)
	}
	f.publisher.AssertNumberOfCalls(t, "Publish", 3)
}
