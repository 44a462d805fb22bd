package dynamodb

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cix-16/opencti/pkg/utils"
)

func newTestConnectionStore() (*ConnectionStore, *mockItemClient) {
	client := &mockItemClient{}
	return NewConnectionStore(client, "connections", utils.NewManualClock(storeNow), zap.NewNop()), client
}

func pkOf(item map[string]types.AttributeValue) string {
	return item["PK"].(*types.AttributeValueMemberS).Value
}

func TestConnectionStore_SaveWritesOneItemPerTopic(t *testing.T) {
	store, client := newTestConnectionStore()

	var written []string
	client.On("PutItem", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			written = append(written, pkOf(args.Get(1).(*dynamodb.PutItemInput).Item))
		}).
		Return(&dynamodb.PutItemOutput{}, nil)

	err := store.Save(context.Background(), Connection{
		ID:       "conn-1",
		UserID:   "user-1",
		Endpoint: "abc.execute-api.eu-west-1.amazonaws.com/prod",
		Topics:   []string{"Workspace.added", "Workspace.edited"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"CONNECTION#conn-1", "TOPIC#Workspace.added", "TOPIC#Workspace.edited"}, written)
}

func TestConnectionStore_ForTopic(t *testing.T) {
	store, client := newTestConnectionStore()

	item, err := attributevalue.MarshalMap(connectionRecord{
		PK:           "TOPIC#Workspace.added",
		SK:           "CONNECTION#conn-1",
		ConnectionID: "conn-1",
		UserID:       "user-1",
		Endpoint:     "abc.execute-api.eu-west-1.amazonaws.com/prod",
		ConnectedAt:  storeNow.Format("2006-01-02T15:04:05Z07:00"),
		TTL:          storeNow.Unix() + 60,
	})
	require.NoError(t, err)

	client.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey == nil
	})).Return(&dynamodb.QueryOutput{
		Items:            []map[string]types.AttributeValue{item},
		LastEvaluatedKey: itemKey("TOPIC#Workspace.added", "CONNECTION#conn-1"),
	}, nil).Once()
	client.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey != nil
	})).Return(&dynamodb.QueryOutput{}, nil).Once()

	conns, err := store.ForTopic(context.Background(), "Workspace.added")
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "conn-1", conns[0].ID)
	assert.Equal(t, "user-1", conns[0].UserID)
	assert.True(t, conns[0].ConnectedAt.Equal(storeNow))
	client.AssertExpectations(t)
}

func TestConnectionStore_RemoveDeletesTopicItems(t *testing.T) {
	store, client := newTestConnectionStore()

	meta, err := attributevalue.MarshalMap(connectionRecord{
		PK:           "CONNECTION#conn-1",
		SK:           "METADATA",
		ConnectionID: "conn-1",
		Topics:       []string{"Workspace.added"},
	})
	require.NoError(t, err)

	client.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: meta}, nil)

	var deleted []string
	client.On("DeleteItem", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			deleted = append(deleted, pkOf(args.Get(1).(*dynamodb.DeleteItemInput).Key))
		}).
		Return(&dynamodb.DeleteItemOutput{}, nil)

	require.NoError(t, store.Remove(context.Background(), "conn-1"))
	assert.Equal(t, []string{"TOPIC#Workspace.added", "CONNECTION#conn-1"}, deleted)
}

func TestConnectionStore_RemoveUnknownIsNoop(t *testing.T) {
	store, client := newTestConnectionStore()
	client.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	require.NoError(t, store.Remove(context.Background(), "gone"))
	client.AssertNotCalled(t, "DeleteItem", mock.Anything, mock.Anything)
}
