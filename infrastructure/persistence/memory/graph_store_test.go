package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cix-16/opencti/pkg/graphdb"
)

func sequentialIDs() Option {
	n := 0
	return WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	})
}

func createNode(t *testing.T, ctx context.Context, tx graphdb.Tx, label, name string) string {
	t.Helper()
	stmt, err := graphdb.CreateNode([]string{label}, map[string]interface{}{"name": name})
	require.NoError(t, err)
	res, err := tx.Run(ctx, stmt)
	require.NoError(t, err)
	rec, ok := res.Single()
	require.True(t, ok)
	return rec.Map(graphdb.KeyNode)["id"].(string)
}

func readNode(t *testing.T, ctx context.Context, store *GraphStore, id string) graphdb.Record {
	t.Helper()
	var out graphdb.Record
	err := store.ExecuteRead(ctx, func(r graphdb.Runner) error {
		res, err := r.Run(ctx, graphdb.MatchNode(id))
		if err != nil {
			return err
		}
		out, _ = res.Single()
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestGraphStore_CommitMakesWritesVisible(t *testing.T) {
	ctx := context.Background()
	store := NewGraphStore(sequentialIDs())

	tx, err := store.BeginWrite(ctx)
	require.NoError(t, err)
	id := createNode(t, ctx, tx, "Workspace", "w")

	assert.Nil(t, readNode(t, ctx, store, id), "uncommitted node must not be visible")

	require.NoError(t, tx.Commit(ctx))
	rec := readNode(t, ctx, store, id)
	require.NotNil(t, rec)
	assert.Equal(t, "w", rec.Map(graphdb.KeyNode)["name"])
	assert.Equal(t, 1, store.NodeCount())
}

func TestGraphStore_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := NewGraphStore()

	tx, err := store.BeginWrite(ctx)
	require.NoError(t, err)
	createNode(t, ctx, tx, "Workspace", "w")
	require.NoError(t, tx.Rollback(ctx))

	assert.Equal(t, 0, store.NodeCount())
	_, err = tx.Run(ctx, graphdb.MatchNode("x"))
	assert.ErrorIs(t, err, ErrTxDone)
}

func TestGraphStore_ConcurrentWriteConflicts(t *testing.T) {
	ctx := context.Background()
	store := NewGraphStore()

	setup, err := store.BeginWrite(ctx)
	require.NoError(t, err)
	id := createNode(t, ctx, setup, "Workspace", "w")
	require.NoError(t, setup.Commit(ctx))

	first, err := store.BeginWrite(ctx)
	require.NoError(t, err)
	second, err := store.BeginWrite(ctx)
	require.NoError(t, err)

	for i, tx := range []graphdb.Tx{first, second} {
		stmt, err := graphdb.SetProperty(id, "name", fmt.Sprintf("v%d", i), "2024-01-01T00:00:00.000Z")
		require.NoError(t, err)
		_, err = tx.Run(ctx, stmt)
		require.NoError(t, err)
	}

	require.NoError(t, first.Commit(ctx))
	err = second.Commit(ctx)
	assert.True(t, errors.Is(err, graphdb.ErrConflict))
	assert.Equal(t, "v0", readNode(t, ctx, store, id).Map(graphdb.KeyNode)["name"])
}

func TestGraphStore_RelationsAndDetachDelete(t *testing.T) {
	ctx := context.Background()
	store := NewGraphStore(sequentialIDs())

	tx, err := store.BeginWrite(ctx)
	require.NoError(t, err)
	w := createNode(t, ctx, tx, "Workspace", "w")
	u := createNode(t, ctx, tx, "User", "u")

	stmt, err := graphdb.CreateRelation(w, u, "owned_by", []string{"Marking-Definition"}, map[string]interface{}{"from_role": "to", "to_role": "owner"})
	require.NoError(t, err)
	res, err := tx.Run(ctx, stmt)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Len(), "target label mismatch must not create an edge")

	stmt, err = graphdb.CreateRelation(w, u, "owned_by", []string{"User"}, map[string]interface{}{"from_role": "to", "to_role": "owner"})
	require.NoError(t, err)
	res, err = tx.Run(ctx, stmt)
	require.NoError(t, err)
	rec, ok := res.Single()
	require.True(t, ok)
	assert.Equal(t, "owned_by", rec.String(graphdb.KeyRelationType))
	assert.Equal(t, w, rec.String(graphdb.KeyFromID))
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, 1, store.RelationCount())

	tx, err = store.BeginWrite(ctx)
	require.NoError(t, err)
	res, err = tx.Run(ctx, graphdb.DeleteNode(u))
	require.NoError(t, err)
	rec, _ = res.Single()
	assert.Equal(t, int64(1), rec.Int64(graphdb.KeyDeleted))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, 1, store.NodeCount())
	assert.Equal(t, 0, store.RelationCount())
}

func TestGraphStore_TraverseOrdersAndPages(t *testing.T) {
	ctx := context.Background()
	store := NewGraphStore(sequentialIDs())

	tx, err := store.BeginWrite(ctx)
	require.NoError(t, err)
	for _, name := range []string{"delta", "alpha", "charlie", "bravo"} {
		createNode(t, ctx, tx, "Workspace", name)
	}
	createNode(t, ctx, tx, "User", "aaron")
	require.NoError(t, tx.Commit(ctx))

	var names []interface{}
	err = store.ExecuteRead(ctx, func(r graphdb.Runner) error {
		stmt, err := graphdb.Traverse(graphdb.Traversal{Label: "Workspace", OrderBy: "name", Skip: 1, Limit: 2})
		if err != nil {
			return err
		}
		res, err := r.Run(ctx, stmt)
		if err != nil {
			return err
		}
		for res.Next() {
			names = append(names, res.Record().Map(graphdb.KeyNode)["name"])
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"bravo", "charlie"}, names)
}

func TestGraphStore_ReadRejectsWrites(t *testing.T) {
	ctx := context.Background()
	store := NewGraphStore()

	err := store.ExecuteRead(ctx, func(r graphdb.Runner) error {
		_, err := r.Run(ctx, graphdb.DeleteNode("x"))
		return err
	})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, -1, compareValues(1, int64(2)))
	assert.Equal(t, 0, compareValues(2.0, 2))
	assert.Equal(t, 1, compareValues(nil, "a"))
	assert.Equal(t, -1, compareValues("a", nil))
	assert.Equal(t, -1, compareValues(false, true))
	assert.Equal(t, -1, compareValues("alpha", "beta"))
}
