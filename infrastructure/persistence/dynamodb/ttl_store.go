package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/Cix-16/opencti/application/ports"
	"github.com/Cix-16/opencti/pkg/utils"
)

const ttlPartitionPrefix = "EDITCTX#"

// ItemClient is the subset of the DynamoDB client used by the stores in
// this package.
type ItemClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ ItemClient = (*dynamodb.Client)(nil)

// ttlRecord is one TTL store entry
type ttlRecord struct {
	PK        string `dynamodbav:"PK"` // EDITCTX#<partition>
	SK        string `dynamodbav:"SK"` // key
	Value     []byte `dynamodbav:"Value"`
	UpdatedAt int64  `dynamodbav:"UpdatedAt"` // unix millis
	ExpiresAt int64  `dynamodbav:"ExpiresAt"` // unix millis
	TTL       int64  `dynamodbav:"TTL"`       // unix seconds for DynamoDB TTL
}

// TTLStore implements ports.TTLStore on a DynamoDB table with TTL enabled on
// the "TTL" attribute. DynamoDB deletes expired items lazily, so reads
// filter on ExpiresAt.
type TTLStore struct {
	client    ItemClient
	tableName string
	clock     utils.Clock
	logger    *zap.Logger
}

var _ ports.TTLStore = (*TTLStore)(nil)

// NewTTLStore creates a DynamoDB TTL store
func NewTTLStore(client ItemClient, tableName string, clock utils.Clock, logger *zap.Logger) *TTLStore {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &TTLStore{client: client, tableName: tableName, clock: clock, logger: logger}
}

// Set upserts the entry. A write older than the stored one is dropped.
func (s *TTLStore) Set(ctx context.Context, partition, key string, value []byte, ttl time.Duration) error {
	now := s.clock.Now()
	expiresAt := now.Add(ttl)
	item, err := attributevalue.MarshalMap(ttlRecord{
		PK:        ttlPartitionPrefix + partition,
		SK:        key,
		Value:     value,
		UpdatedAt: now.UnixMilli(),
		ExpiresAt: expiresAt.UnixMilli(),
		TTL:       expiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal ttl record: %w", err)
	}

	cond := expression.AttributeNotExists(expression.Name("PK")).
		Or(expression.Name("UpdatedAt").LessThanEqual(expression.Value(now.UnixMilli())))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build condition: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.tableName),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			s.logger.Debug("ttl entry superseded by a newer write",
				zap.String("partition", partition),
				zap.String("key", key))
			return nil
		}
		return fmt.Errorf("failed to put ttl entry: %w", err)
	}
	return nil
}

// Get reads an unexpired entry with a consistent read
func (s *TTLStore) Get(ctx context.Context, partition, key string) ([]byte, bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(partition, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get ttl entry: %w", err)
	}
	if len(result.Item) == 0 {
		return nil, false, nil
	}

	var record ttlRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal ttl record: %w", err)
	}
	if record.ExpiresAt <= s.clock.Now().UnixMilli() {
		return nil, false, nil
	}
	return record.Value, true, nil
}

// Delete removes an entry
func (s *TTLStore) Delete(ctx context.Context, partition, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(partition, key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete ttl entry: %w", err)
	}
	return nil
}

// List queries the partition and filters out expired entries
func (s *TTLStore) List(ctx context.Context, partition string) ([][]byte, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(ttlPartitionPrefix + partition))
	filter := expression.Name("ExpiresAt").GreaterThan(expression.Value(s.clock.Now().UnixMilli()))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var values [][]byte
	var startKey map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.tableName),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ConsistentRead:            aws.Bool(true),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query ttl entries: %w", err)
		}

		for _, item := range result.Items {
			var record ttlRecord
			if err := attributevalue.UnmarshalMap(item, &record); err != nil {
				s.logger.Warn("skipping malformed ttl record", zap.Error(err))
				continue
			}
			values = append(values, record.Value)
		}

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		startKey = result.LastEvaluatedKey
	}
	return values, nil
}

func (s *TTLStore) key(partition, key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: ttlPartitionPrefix + partition},
		"SK": &types.AttributeValueMemberS{Value: key},
	}
}
