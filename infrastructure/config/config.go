package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend selectors
const (
	GraphBackendNeo4j  = "neo4j"
	GraphBackendMemory = "memory"

	KVBackendMemory   = "memory"
	KVBackendDynamoDB = "dynamodb"
	KVBackendBadger   = "badger"

	BusTransportMemory      = "memory"
	BusTransportEventBridge = "eventbridge"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string
	AWSRegion     string

	// Graph store
	GraphBackend       string
	Neo4jURI           string
	Neo4jUsername      string
	Neo4jPassword      string
	Neo4jDatabase      string
	TransactionTimeout time.Duration

	// Edit contexts
	EditContextBackend string
	EditContextTTL     time.Duration
	EditContextTable   string
	BadgerPath         string

	// Notifications
	BusTransport string
	EventBusName string

	// WebSocket configuration
	WebSocketEndpoint string
	ConnectionsTable  string

	// Lambda configuration
	IsLambda bool

	// Logging
	LogLevel string

	// Authentication
	JWTSecret          string
	JWTIssuer          string
	RateLimitPerMinute int

	// Feature flags
	EnableMetrics      bool
	MetricsNamespace   string
	EnableTracing      bool
	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: ":" + getEnv("PORT", "8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),

		GraphBackend:       getEnv("GRAPH_BACKEND", GraphBackendMemory),
		Neo4jURI:           getEnv("NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUsername:      getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword:      getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase:      getEnv("NEO4J_DATABASE", ""),
		TransactionTimeout: getEnvDuration("TRANSACTION_TIMEOUT", 10*time.Second),

		EditContextBackend: getEnv("EDIT_CONTEXT_BACKEND", KVBackendMemory),
		EditContextTTL:     getEnvDuration("EDIT_CONTEXT_TTL", 5*time.Minute),
		EditContextTable:   getEnv("EDIT_CONTEXT_TABLE", "opencti-edit-contexts"),
		BadgerPath:         getEnv("BADGER_PATH", ""),

		BusTransport: getEnv("BUS_TRANSPORT", BusTransportMemory),
		EventBusName: getEnv("EVENT_BUS_NAME", "opencti-notifications"),

		WebSocketEndpoint: getEnv("WEBSOCKET_ENDPOINT", ""),
		ConnectionsTable:  getEnv("CONNECTIONS_TABLE", "opencti-connections"),

		IsLambda: getEnv("AWS_LAMBDA_FUNCTION_NAME", "") != "",

		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTIssuer:          getEnv("JWT_ISSUER", "opencti"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 200),

		LogLevel:           getEnv("LOG_LEVEL", "info"),
		EnableMetrics:      getEnvBool("ENABLE_METRICS", false),
		MetricsNamespace:   getEnv("METRICS_NAMESPACE", "OpenCTI"),
		EnableTracing:      getEnvBool("ENABLE_TRACING", false),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.GraphBackend {
	case GraphBackendMemory:
	case GraphBackendNeo4j:
		if c.Neo4jURI == "" {
			return fmt.Errorf("NEO4J_URI is required for the neo4j graph backend")
		}
	default:
		return fmt.Errorf("unknown GRAPH_BACKEND %q", c.GraphBackend)
	}

	switch c.EditContextBackend {
	case KVBackendMemory, KVBackendBadger:
	case KVBackendDynamoDB:
		if c.EditContextTable == "" {
			return fmt.Errorf("EDIT_CONTEXT_TABLE is required for the dynamodb edit context backend")
		}
	default:
		return fmt.Errorf("unknown EDIT_CONTEXT_BACKEND %q", c.EditContextBackend)
	}

	switch c.BusTransport {
	case BusTransportMemory:
	case BusTransportEventBridge:
		if c.EventBusName == "" {
			return fmt.Errorf("EVENT_BUS_NAME is required for the eventbridge transport")
		}
	default:
		return fmt.Errorf("unknown BUS_TRANSPORT %q", c.BusTransport)
	}

	if c.EditContextTTL <= 0 {
		return fmt.Errorf("EDIT_CONTEXT_TTL must be positive")
	}
	if c.TransactionTimeout <= 0 {
		return fmt.Errorf("TRANSACTION_TIMEOUT must be positive")
	}

	if c.Environment == "production" {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.GraphBackend == GraphBackendMemory {
			return fmt.Errorf("the memory graph backend is not allowed in production")
		}
	}

	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") and plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
