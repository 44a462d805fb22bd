package valueobjects

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Cix-16/opencti/domain/config"
	pkgerrors "github.com/Cix-16/opencti/pkg/errors"
)

var attributeKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// System attributes are written by the repository only.
var systemAttributes = map[string]struct{}{
	"id":               {},
	"entity_type":      {},
	"created_at":       {},
	"created_at_day":   {},
	"created_at_month": {},
	"created_at_year":  {},
	"updated_at":       {},
}

// IsSystemAttribute reports whether key is owned by the repository.
func IsSystemAttribute(key string) bool {
	_, ok := systemAttributes[key]
	return ok
}

// ValidateAttributeKey checks that key can be stored as a node property.
func ValidateAttributeKey(key string) error {
	if !attributeKeyPattern.MatchString(key) {
		return pkgerrors.NewValidationErrorf("invalid attribute key %q", key)
	}
	return nil
}

// ValidateAttributeValue accepts the scalar and string-list values a graph
// property can hold.
func ValidateAttributeValue(key string, value interface{}, cfg *config.DomainConfig) error {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}

	limit := cfg.MaxAttributeLength
	switch key {
	case "name":
		limit = cfg.MaxNameLength
	case "description":
		limit = cfg.MaxDescriptionLength
	}

	switch v := value.(type) {
	case nil, bool, int, int32, int64, float64:
		return nil
	case string:
		if utf8.RuneCountInString(v) > limit {
			return pkgerrors.NewValidationErrorf("%s exceeds maximum length of %d characters", key, limit)
		}
		return nil
	case []string:
		for _, s := range v {
			if utf8.RuneCountInString(s) > limit {
				return pkgerrors.NewValidationErrorf("%s contains a value longer than %d characters", key, limit)
			}
		}
		return nil
	case []interface{}:
		for _, item := range v {
			if _, ok := item.(string); !ok {
				return pkgerrors.NewValidationErrorf("%s must be a list of strings", key)
			}
		}
		return nil
	default:
		return pkgerrors.NewValidationErrorf("%s has unsupported type %T", key, value)
	}
}

// NormalizeAttributes validates user-supplied attributes and trims the name.
// System attributes are rejected.
func NormalizeAttributes(attrs map[string]interface{}, cfg *config.DomainConfig) (map[string]interface{}, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if len(attrs) > cfg.MaxAttributesPerNode {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("too many attributes: maximum %d", cfg.MaxAttributesPerNode))
	}

	out := make(map[string]interface{}, len(attrs))
	for key, value := range attrs {
		if IsSystemAttribute(key) {
			return nil, pkgerrors.NewValidationErrorf("attribute %q is managed by the platform", key)
		}
		if err := ValidateAttributeKey(key); err != nil {
			return nil, err
		}
		if err := ValidateAttributeValue(key, value, cfg); err != nil {
			return nil, err
		}
		if s, ok := value.(string); ok && key == "name" {
			value = strings.TrimSpace(s)
		}
		out[key] = value
	}
	return out, nil
}
