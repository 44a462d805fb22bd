package config

import (
	"fmt"
	"time"
)

// DomainConfig holds the configurable limits of the domain layer
type DomainConfig struct {
	// Attribute constraints
	MaxNameLength        int
	MaxDescriptionLength int
	MaxAttributeLength   int
	MaxAttributesPerNode int

	// Pagination
	DefaultPageSize int
	MaxPageSize     int

	// Relation batches
	MaxRelationsPerBatch int
	AllowSelfRelations   bool

	// Edit contexts
	EditContextTTL time.Duration
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		MaxNameLength:        500,
		MaxDescriptionLength: 50000,
		MaxAttributeLength:   10000,
		MaxAttributesPerNode: 64,

		DefaultPageSize: 200,
		MaxPageSize:     500,

		MaxRelationsPerBatch: 100,
		AllowSelfRelations:   false,

		EditContextTTL: 5 * time.Minute,
	}
}

// ProductionDomainConfig returns production-specific configuration
func ProductionDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()
	config.MaxDescriptionLength = 20000
	config.MaxRelationsPerBatch = 50
	return config
}

// DevelopmentDomainConfig returns development-specific configuration
func DevelopmentDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()
	config.AllowSelfRelations = true
	config.EditContextTTL = time.Minute
	return config
}

// LoadDomainConfig loads domain configuration based on environment
func LoadDomainConfig(environment string) *DomainConfig {
	switch environment {
	case "production":
		return ProductionDomainConfig()
	case "development":
		return DevelopmentDomainConfig()
	default:
		return DefaultDomainConfig()
	}
}

// Validate checks if the configuration is valid
func (c *DomainConfig) Validate() error {
	if c.DefaultPageSize <= 0 || c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("invalid page sizes: default=%d max=%d", c.DefaultPageSize, c.MaxPageSize)
	}
	if c.MaxRelationsPerBatch <= 0 {
		return fmt.Errorf("max relations per batch must be positive")
	}
	if c.EditContextTTL <= 0 {
		return fmt.Errorf("edit context TTL must be positive")
	}
	return nil
}
