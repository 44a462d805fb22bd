package entities

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Cix-16/opencti/domain/core/valueobjects"
)

// Entity is a typed node of the knowledge graph as read back from the store.
// Entities are read models: every mutation goes through the repository and
// the caller receives a fresh copy.
type Entity struct {
	ID             string
	EntityType     string
	Name           string
	Description    string
	CreatedAt      time.Time
	CreatedAtDay   string
	CreatedAtMonth string
	CreatedAtYear  string
	UpdatedAt      time.Time

	// Attributes holds every other property of the node.
	Attributes map[string]interface{}
}

// Attribute returns a non-system attribute.
func (e *Entity) Attribute(key string) (interface{}, bool) {
	v, ok := e.Attributes[key]
	return v, ok
}

// DateParts returns the stored denormalized creation date.
func (e *Entity) DateParts() valueobjects.DateParts {
	return valueobjects.DateParts{Day: e.CreatedAtDay, Month: e.CreatedAtMonth, Year: e.CreatedAtYear}
}

// MarshalJSON flattens attributes next to the system fields.
func (e *Entity) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.Attributes)+9)
	for k, v := range e.Attributes {
		out[k] = v
	}
	out["id"] = e.ID
	out["entity_type"] = e.EntityType
	out["name"] = e.Name
	out["description"] = e.Description
	out["created_at"] = valueobjects.FormatTimestamp(e.CreatedAt)
	out["created_at_day"] = e.CreatedAtDay
	out["created_at_month"] = e.CreatedAtMonth
	out["created_at_year"] = e.CreatedAtYear
	out["updated_at"] = valueobjects.FormatTimestamp(e.UpdatedAt)
	return json.Marshal(out)
}

// NewEntityProperties builds the stored property map of a new node.
func NewEntityProperties(entityType string, attrs map[string]interface{}, now time.Time) map[string]interface{} {
	props := make(map[string]interface{}, len(attrs)+8)
	for k, v := range attrs {
		props[k] = v
	}
	parts := valueobjects.NewDateParts(now)
	stamp := valueobjects.FormatTimestamp(now)

	props["entity_type"] = entityType
	props["created_at"] = stamp
	props["created_at_day"] = parts.Day
	props["created_at_month"] = parts.Month
	props["created_at_year"] = parts.Year
	props["updated_at"] = stamp
	if _, ok := props["name"]; !ok {
		props["name"] = ""
	}
	if _, ok := props["description"]; !ok {
		props["description"] = ""
	}
	return props
}

// EntityFromProperties rebuilds an entity from node properties.
func EntityFromProperties(props map[string]interface{}) (*Entity, error) {
	if props == nil {
		return nil, fmt.Errorf("node has no properties")
	}

	e := &Entity{Attributes: make(map[string]interface{})}
	for k, v := range props {
		switch k {
		case "id":
			e.ID = asString(v)
		case "entity_type":
			e.EntityType = asString(v)
		case "name":
			e.Name = asString(v)
		case "description":
			e.Description = asString(v)
		case "created_at":
			t, err := parseTime(v)
			if err != nil {
				return nil, fmt.Errorf("created_at: %w", err)
			}
			e.CreatedAt = t
		case "created_at_day":
			e.CreatedAtDay = asString(v)
		case "created_at_month":
			e.CreatedAtMonth = asString(v)
		case "created_at_year":
			e.CreatedAtYear = asString(v)
		case "updated_at":
			t, err := parseTime(v)
			if err != nil {
				return nil, fmt.Errorf("updated_at: %w", err)
			}
			e.UpdatedAt = t
		default:
			e.Attributes[k] = v
		}
	}
	if e.ID == "" {
		return nil, fmt.Errorf("node has no id")
	}
	return e, nil
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func parseTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		if t == "" {
			return time.Time{}, nil
		}
		return valueobjects.ParseTimestamp(t)
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}
