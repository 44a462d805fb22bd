package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cix-16/opencti/domain/config"
	"github.com/Cix-16/opencti/domain/core/entities"
	"github.com/Cix-16/opencti/pkg/common"
	"github.com/Cix-16/opencti/pkg/errors"
	"github.com/Cix-16/opencti/pkg/graphdb"
)

func seedWorkspaces(t *testing.T, repo *Repository, names ...string) {
	t.Helper()
	for _, name := range names {
		mustCreate(t, repo, config.TypeWorkspace, map[string]interface{}{"name": name})
	}
}

func TestPaginate_ChainsCursorsOverEveryRow(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	ctx := context.Background()
	seedWorkspaces(t, repo, "echo", "alpha", "delta", "charlie", "bravo")

	var visited []string
	args := common.PaginationArgs{First: 2}
	pages := 0
	for {
		conn, err := repo.Paginate(ctx, graphdb.Traversal{Label: config.TypeWorkspace}, args, false)
		require.NoError(t, err)
		pages++
		assert.Equal(t, pages > 1, conn.PageInfo.HasPreviousPage)

		for _, n := range conn.Nodes() {
			visited = append(visited, n.Name)
		}
		if !conn.PageInfo.HasNextPage {
			assert.Len(t, conn.Edges, 1)
			break
		}
		assert.Len(t, conn.Edges, 2)
		args.After = conn.PageInfo.EndCursor
		require.Less(t, pages, 10)
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, []string{"alpha", "bravo", "charlie", "delta", "echo"}, visited)
}

func TestPaginate_DescendingWithCount(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	seedWorkspaces(t, repo, "alpha", "bravo", "charlie")

	conn, err := repo.Paginate(context.Background(), graphdb.Traversal{Label: config.TypeWorkspace},
		common.PaginationArgs{First: 2, OrderMode: "desc", WithCount: true}, false)
	require.NoError(t, err)

	require.Len(t, conn.Edges, 2)
	assert.Equal(t, "charlie", conn.Edges[0].Node.Name)
	assert.Equal(t, "bravo", conn.Edges[1].Node.Name)
	assert.Equal(t, conn.Edges[0].Cursor, conn.PageInfo.StartCursor)
	assert.Equal(t, conn.Edges[1].Cursor, conn.PageInfo.EndCursor)
	require.NotNil(t, conn.PageInfo.GlobalCount)
	assert.Equal(t, 3, *conn.PageInfo.GlobalCount)
}

func TestPaginate_CountOmittedUnlessRequested(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	seedWorkspaces(t, repo, "alpha")

	conn, err := repo.Paginate(context.Background(), graphdb.Traversal{Label: config.TypeWorkspace}, common.PaginationArgs{}, false)
	require.NoError(t, err)
	assert.Nil(t, conn.PageInfo.GlobalCount)
	assert.False(t, conn.PageInfo.HasNextPage)
	assert.False(t, conn.PageInfo.HasPreviousPage)
}

func TestPaginate_EmptyResult(t *testing.T) {
	repo, _, _ := newTestRepository(t)

	conn, err := repo.Paginate(context.Background(), graphdb.Traversal{Label: config.TypeWorkspace},
		common.PaginationArgs{WithCount: true}, false)
	require.NoError(t, err)
	assert.Empty(t, conn.Edges)
	assert.Empty(t, conn.PageInfo.StartCursor)
	assert.Equal(t, 0, *conn.PageInfo.GlobalCount)
}

func TestPaginate_Filters(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	seedWorkspaces(t, repo, "Threat Report Q1", "Threat Report Q2", "Malware notes")

	conn, err := repo.Paginate(context.Background(), graphdb.Traversal{Label: config.TypeWorkspace},
		common.PaginationArgs{
			Filters:   []graphdb.Filter{{Key: "name", Values: []interface{}{"threat"}, Operator: graphdb.FilterMatch}},
			WithCount: true,
		}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, *conn.PageInfo.GlobalCount)
	for _, n := range conn.Nodes() {
		assert.Contains(t, n.Name, "Threat")
	}
}

func TestPaginate_RelationQueryProjectsEdges(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	ctx := context.Background()
	ws := mustCreate(t, repo, config.TypeWorkspace, map[string]interface{}{"name": "w"})
	m1 := mustCreate(t, repo, config.TypeMarkingDefinition, map[string]interface{}{"name": "a", "definition_type": "TLP", "definition": "1"})
	m2 := mustCreate(t, repo, config.TypeMarkingDefinition, map[string]interface{}{"name": "b", "definition_type": "TLP", "definition": "2"})
	rels, err := repo.CreateRelations(ctx, ws.ID, []entities.RelationSpec{markingSpec(m1.ID), markingSpec(m2.ID)})
	require.NoError(t, err)

	base := graphdb.Traversal{
		Label: config.TypeMarkingDefinition,
		Anchor: &graphdb.Anchor{
			ID: ws.ID, RelationType: config.RelationObjectMarkingRefs, AnchorRole: "so", TargetRole: "marking",
		},
	}
	conn, err := repo.Paginate(ctx, base, common.PaginationArgs{}, true)
	require.NoError(t, err)
	require.Len(t, conn.Edges, 2)

	for i, edge := range conn.Edges {
		require.NotNil(t, edge.Relation)
		assert.Equal(t, rels[i].ID, edge.Relation.ID)
		assert.Equal(t, ws.ID, edge.Relation.FromID)
		assert.Equal(t, edge.Node.ID, edge.Relation.ToID)
	}

	// seen from the marking, the workspace holds the "so" role
	back := graphdb.Traversal{
		Label:  config.TypeWorkspace,
		Anchor: &graphdb.Anchor{ID: m1.ID, RelationType: config.RelationObjectMarkingRefs, AnchorRole: "marking", TargetRole: "so"},
	}
	conn, err = repo.Paginate(ctx, back, common.PaginationArgs{}, false)
	require.NoError(t, err)
	require.Len(t, conn.Edges, 1)
	assert.Equal(t, ws.ID, conn.Edges[0].Node.ID)
	assert.Nil(t, conn.Edges[0].Relation)
}

func TestPaginate_InvalidArguments(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	ctx := context.Background()
	base := graphdb.Traversal{Label: config.TypeWorkspace}

	cases := map[string]common.PaginationArgs{
		"negative first":   {First: -1},
		"malformed cursor": {After: "not-a-cursor"},
		"bad order mode":   {OrderMode: "sideways"},
		"hostile order":    {OrderBy: "name) DETACH DELETE n //"},
		"empty filter":     {Filters: []graphdb.Filter{{Key: "name"}}},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Paginate(ctx, base, args, false)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}
}

func TestPaginate_PageSizeIsCapped(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	repo.domain = &config.DomainConfig{DefaultPageSize: 2, MaxPageSize: 3}
	seedWorkspaces(t, repo, "a", "b", "c", "d", "e")

	conn, err := repo.Paginate(context.Background(), graphdb.Traversal{Label: config.TypeWorkspace}, common.PaginationArgs{}, false)
	require.NoError(t, err)
	assert.Len(t, conn.Edges, 2)

	conn, err = repo.Paginate(context.Background(), graphdb.Traversal{Label: config.TypeWorkspace}, common.PaginationArgs{First: 100}, false)
	require.NoError(t, err)
	assert.Len(t, conn.Edges, 3)
	assert.True(t, conn.PageInfo.HasNextPage)
}
