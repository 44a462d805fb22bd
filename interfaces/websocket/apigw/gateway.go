// Package apigw serves notification topics to websocket clients connected
// through API Gateway. Connections and their topics live in DynamoDB; the
// fan-out handler receives notifications from EventBridge.
package apigw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"go.uber.org/zap"

	"github.com/Cix-16/opencti/infrastructure/persistence/dynamodb"
	"github.com/Cix-16/opencti/interfaces/websocket"
	"github.com/Cix-16/opencti/pkg/auth"
)

// ConnectionStore is the subset of dynamodb.ConnectionStore used here
type ConnectionStore interface {
	Save(ctx context.Context, conn dynamodb.Connection) error
	Remove(ctx context.Context, connectionID string) error
	ForTopic(ctx context.Context, topic string) ([]dynamodb.Connection, error)
}

// TokenValidator validates the token a client connects with
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// PostToConnectionAPI is the subset of the management API client used here
type PostToConnectionAPI interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// ClientFactory returns a management API client for a connection endpoint
type ClientFactory func(endpoint string) PostToConnectionAPI

// Connector handles the $connect and $disconnect routes
type Connector struct {
	store     ConnectionStore
	validator TokenValidator
	topics    map[string]bool
	logger    *zap.Logger
}

// NewConnector creates a connector that accepts subscriptions to topics
func NewConnector(store ConnectionStore, validator TokenValidator, topics []string, logger *zap.Logger) *Connector {
	known := make(map[string]bool, len(topics))
	for _, t := range topics {
		known[t] = true
	}
	return &Connector{store: store, validator: validator, topics: known, logger: logger}
}

// Handle processes one route request. The topics query parameter is a
// comma separated list of topics to listen on.
func (c *Connector) Handle(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := req.RequestContext.ConnectionID

	if req.RequestContext.RouteKey == "$disconnect" {
		if err := c.store.Remove(ctx, connectionID); err != nil {
			c.logger.Error("failed to remove connection", zap.String("connection_id", connectionID), zap.Error(err))
			return respond(http.StatusInternalServerError, "internal server error"), nil
		}
		return respond(http.StatusOK, "disconnected"), nil
	}

	token := req.QueryStringParameters["token"]
	if token == "" {
		token = strings.TrimPrefix(req.Headers["Authorization"], "Bearer ")
	}
	if token == "" {
		return respond(http.StatusUnauthorized, "missing authentication token"), nil
	}
	claims, err := c.validator.ValidateToken(token)
	if err != nil {
		c.logger.Info("websocket authentication failed", zap.Error(err))
		return respond(http.StatusUnauthorized, "invalid token"), nil
	}

	var topics []string
	for _, t := range strings.Split(req.QueryStringParameters["topics"], ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !c.topics[t] {
			return respond(http.StatusBadRequest, fmt.Sprintf("unknown topic %q", t)), nil
		}
		topics = append(topics, t)
	}
	if len(topics) == 0 {
		return respond(http.StatusBadRequest, "at least one topic is required"), nil
	}

	conn := dynamodb.Connection{
		ID:       connectionID,
		UserID:   claims.UserID,
		Endpoint: req.RequestContext.DomainName + "/" + req.RequestContext.Stage,
		Topics:   topics,
	}
	if err := c.store.Save(ctx, conn); err != nil {
		c.logger.Error("failed to store connection", zap.String("connection_id", connectionID), zap.Error(err))
		return respond(http.StatusInternalServerError, "internal server error"), nil
	}

	c.logger.Info("websocket connected",
		zap.String("connection_id", connectionID),
		zap.String("user_id", claims.UserID),
		zap.Strings("topics", topics))
	return respond(http.StatusOK, "connected"), nil
}

// Fanout pushes EventBridge notifications to the connections of their topic
type Fanout struct {
	store     ConnectionStore
	newClient ClientFactory
	logger    *zap.Logger

	mu      sync.Mutex
	clients map[string]PostToConnectionAPI
}

// NewFanout creates a fan-out handler
func NewFanout(store ConnectionStore, newClient ClientFactory, logger *zap.Logger) *Fanout {
	return &Fanout{
		store:     store,
		newClient: newClient,
		logger:    logger,
		clients:   make(map[string]PostToConnectionAPI),
	}
}

// Handle delivers one event. The detail type is the topic and the detail
// the notification payload, as written by the EventBridge publisher.
// Connections that are gone are removed.
func (f *Fanout) Handle(ctx context.Context, event events.CloudWatchEvent) error {
	topic := event.DetailType
	conns, err := f.store.ForTopic(ctx, topic)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		return nil
	}

	message, err := json.Marshal(websocket.ServerMessage{
		Type:    websocket.TypeNotification,
		Topic:   topic,
		Payload: event.Detail,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	var failed int
	for _, conn := range conns {
		_, err := f.client(conn.Endpoint).PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
			ConnectionId: aws.String(conn.ID),
			Data:         message,
		})
		if err == nil {
			continue
		}

		var gone *apigwtypes.GoneException
		if errors.As(err, &gone) {
			f.logger.Info("removing stale connection", zap.String("connection_id", conn.ID))
			if err := f.store.Remove(ctx, conn.ID); err != nil {
				f.logger.Warn("failed to remove stale connection", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			continue
		}

		failed++
		f.logger.Error("failed to post to connection",
			zap.String("connection_id", conn.ID),
			zap.String("topic", topic),
			zap.Error(err))
	}

	f.logger.Debug("notification fanned out",
		zap.String("topic", topic),
		zap.Int("connections", len(conns)),
		zap.Int("failed", failed))

	if failed == len(conns) {
		return fmt.Errorf("all %d deliveries on %s failed", failed, topic)
	}
	return nil
}

func (f *Fanout) client(endpoint string) PostToConnectionAPI {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[endpoint]
	if !ok {
		c = f.newClient(endpoint)
		f.clients[endpoint] = c
	}
	return c
}

func respond(status int, message string) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(map[string]string{"message": message})
	return events.APIGatewayProxyResponse{StatusCode: status, Body: string(body)}
}
