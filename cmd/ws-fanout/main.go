// Package main implements the EventBridge target that pushes notifications
// to API Gateway websocket connections.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/Cix-16/opencti/infrastructure/config"
	"github.com/Cix-16/opencti/infrastructure/di"
	"github.com/Cix-16/opencti/infrastructure/persistence/dynamodb"
	"github.com/Cix-16/opencti/interfaces/websocket/apigw"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.ConnectionsTable == "" {
		log.Fatal("CONNECTIONS_TABLE is required")
	}

	logger, err := di.ProvideLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	}

	// WEBSOCKET_ENDPOINT overrides the endpoint stored with each connection,
	// e.g. when a custom domain fronts the API.
	newClient := func(endpoint string) apigw.PostToConnectionAPI {
		if cfg.WebSocketEndpoint != "" {
			endpoint = cfg.WebSocketEndpoint
		}
		return apigatewaymanagementapi.NewFromConfig(awsCfg, func(o *apigatewaymanagementapi.Options) {
			o.BaseEndpoint = aws.String("https://" + endpoint)
		})
	}

	store := dynamodb.NewConnectionStore(awsdynamodb.NewFromConfig(awsCfg), cfg.ConnectionsTable, nil, logger)
	fanout := apigw.NewFanout(store, newClient, logger)

	logger.Info("Starting websocket fan-out handler", zap.String("table", cfg.ConnectionsTable))
	lambda.Start(fanout.Handle)
}
