package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/Cix-16/opencti/pkg/utils"
)

const (
	connectionPrefix = "CONNECTION#"
	topicPrefix      = "TOPIC#"
	metadataSK       = "METADATA"

	// DefaultConnectionTTL bounds how long a connection record outlives a
	// missed $disconnect.
	DefaultConnectionTTL = 24 * time.Hour
)

// Connection is an API Gateway websocket connection and the topics it
// listens on.
type Connection struct {
	ID          string
	UserID      string
	Endpoint    string
	Topics      []string
	ConnectedAt time.Time
}

// connectionRecord is stored once under CONNECTION#<id>/METADATA and once
// per topic under TOPIC#<topic>/CONNECTION#<id>.
type connectionRecord struct {
	PK           string   `dynamodbav:"PK"`
	SK           string   `dynamodbav:"SK"`
	ConnectionID string   `dynamodbav:"ConnectionID"`
	UserID       string   `dynamodbav:"UserID"`
	Endpoint     string   `dynamodbav:"Endpoint"`
	Topics       []string `dynamodbav:"Topics,stringset,omitempty"`
	ConnectedAt  string   `dynamodbav:"ConnectedAt"`
	TTL          int64    `dynamodbav:"TTL"`
}

func (r connectionRecord) connection() Connection {
	connectedAt, _ := time.Parse(time.RFC3339, r.ConnectedAt)
	return Connection{
		ID:          r.ConnectionID,
		UserID:      r.UserID,
		Endpoint:    r.Endpoint,
		Topics:      r.Topics,
		ConnectedAt: connectedAt,
	}
}

// ConnectionStore keeps the topic subscriptions of websocket connections
// that are served by API Gateway instead of this process.
type ConnectionStore struct {
	client    ItemClient
	tableName string
	ttl       time.Duration
	clock     utils.Clock
	logger    *zap.Logger
}

// NewConnectionStore creates a connection store
func NewConnectionStore(client ItemClient, tableName string, clock utils.Clock, logger *zap.Logger) *ConnectionStore {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionStore{
		client:    client,
		tableName: tableName,
		ttl:       DefaultConnectionTTL,
		clock:     clock,
		logger:    logger,
	}
}

// Save stores the connection and one lookup item per topic.
func (s *ConnectionStore) Save(ctx context.Context, conn Connection) error {
	now := s.clock.Now()
	base := connectionRecord{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		Endpoint:     conn.Endpoint,
		ConnectedAt:  now.Format(time.RFC3339),
		TTL:          now.Add(s.ttl).Unix(),
	}

	meta := base
	meta.PK = connectionPrefix + conn.ID
	meta.SK = metadataSK
	meta.Topics = conn.Topics
	if err := s.put(ctx, meta); err != nil {
		return err
	}

	for _, topic := range conn.Topics {
		item := base
		item.PK = topicPrefix + topic
		item.SK = connectionPrefix + conn.ID
		if err := s.put(ctx, item); err != nil {
			return err
		}
	}

	s.logger.Debug("connection stored",
		zap.String("connection_id", conn.ID),
		zap.String("user_id", conn.UserID),
		zap.Strings("topics", conn.Topics))
	return nil
}

// Remove deletes the connection and its topic items. Unknown connections
// are ignored.
func (s *ConnectionStore) Remove(ctx context.Context, connectionID string) error {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(connectionPrefix+connectionID, metadataSK),
	})
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	if len(result.Item) == 0 {
		return nil
	}

	var meta connectionRecord
	if err := attributevalue.UnmarshalMap(result.Item, &meta); err != nil {
		return fmt.Errorf("failed to unmarshal connection: %w", err)
	}

	for _, topic := range meta.Topics {
		if err := s.delete(ctx, topicPrefix+topic, connectionPrefix+connectionID); err != nil {
			return err
		}
	}
	return s.delete(ctx, connectionPrefix+connectionID, metadataSK)
}

// ForTopic lists the live connections subscribed to topic
func (s *ConnectionStore) ForTopic(ctx context.Context, topic string) ([]Connection, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(topicPrefix + topic))
	filter := expression.Name("TTL").GreaterThan(expression.Value(s.clock.Now().Unix()))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var connections []Connection
	var startKey map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.tableName),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query connections: %w", err)
		}

		for _, item := range result.Items {
			var record connectionRecord
			if err := attributevalue.UnmarshalMap(item, &record); err != nil {
				s.logger.Warn("skipping malformed connection item", zap.Error(err))
				continue
			}
			connections = append(connections, record.connection())
		}

		if len(result.LastEvaluatedKey) == 0 {
			return connections, nil
		}
		startKey = result.LastEvaluatedKey
	}
}

func (s *ConnectionStore) put(ctx context.Context, record connectionRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal connection: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to store connection: %w", err)
	}
	return nil
}

func (s *ConnectionStore) delete(ctx context.Context, pk, sk string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(pk, sk),
	}); err != nil {
		return fmt.Errorf("failed to delete connection item: %w", err)
	}
	return nil
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}
