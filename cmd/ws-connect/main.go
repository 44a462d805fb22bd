// Package main implements the API Gateway websocket $connect and
// $disconnect handler. Clients pass a JWT and the topics they listen on as
// query parameters.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	domainconfig "github.com/Cix-16/opencti/domain/config"
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

	validator, err := di.ProvideJWTValidator(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create token validator", zap.Error(err))
	}

	var topics []string
	for _, t := range domainconfig.DefaultSchemaRegistry().TopicRegistry() {
		topics = append(topics, t.Added, t.Edit)
	}

	store := dynamodb.NewConnectionStore(awsdynamodb.NewFromConfig(awsCfg), cfg.ConnectionsTable, nil, logger)
	connector := apigw.NewConnector(store, validator, topics, logger)

	logger.Info("Starting websocket connect handler", zap.String("table", cfg.ConnectionsTable))
	lambda.Start(connector.Handle)
}
