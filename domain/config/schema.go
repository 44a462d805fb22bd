package config

import (
	"fmt"
	"sort"
)

// Entity types known to the platform.
const (
	TypeWorkspace         = "Workspace"
	TypeOrganization      = "Organization"
	TypeSector            = "Sector"
	TypeCampaign          = "Campaign"
	TypeIntrusionSet      = "Intrusion-Set"
	TypeIncident          = "Incident"
	TypeMalware           = "Malware"
	TypeMarkingDefinition = "Marking-Definition"
	TypeUser              = "User"

	// TypeStixDomainEntity is an abstract parent label.
	TypeStixDomainEntity = "Stix-Domain-Entity"
)

// Relation types.
const (
	RelationOwnedBy           = "owned_by"
	RelationObjectMarkingRefs = "object_marking_refs"
	RelationObjectRefs        = "object_refs"
	RelationGathering         = "gathering"
)

// RelationRule declares a relation an entity type may hold as its "from" end.
type RelationRule struct {
	Type        string
	FromRole    string
	ToRole      string
	TargetTypes []string
}

// Topics are the notification channels of one entity type.
type Topics struct {
	Added string
	Edit  string
}

// EntitySchema parametrizes the generic repository and façade for one type.
type EntitySchema struct {
	Type           string
	Parents        []string
	RequiredFields []string
	Relations      []RelationRule
	Topics         Topics
}

// Labels returns the graph labels of a node of this type.
func (s EntitySchema) Labels() []string {
	labels := make([]string, 0, len(s.Parents)+1)
	labels = append(labels, s.Type)
	return append(labels, s.Parents...)
}

// Relation looks up the rule for a relation type.
func (s EntitySchema) Relation(relationType string) (RelationRule, bool) {
	for _, rule := range s.Relations {
		if rule.Type == relationType {
			return rule, true
		}
	}
	return RelationRule{}, false
}

// Allows reports whether the relation type may be created with these roles.
// Empty roles fall back to the declared ones.
func (s EntitySchema) Allows(relationType, fromRole, toRole string) (RelationRule, error) {
	rule, ok := s.Relation(relationType)
	if !ok {
		return RelationRule{}, fmt.Errorf("relation %q is not allowed on %s", relationType, s.Type)
	}
	if fromRole != "" && fromRole != rule.FromRole {
		return RelationRule{}, fmt.Errorf("role %q is not valid for %s on %s", fromRole, relationType, s.Type)
	}
	if toRole != "" && toRole != rule.ToRole {
		return RelationRule{}, fmt.Errorf("role %q is not valid for %s on %s", toRole, relationType, s.Type)
	}
	return rule, nil
}

// DefaultTopics derives the topic names of an entity type.
func DefaultTopics(entityType string) Topics {
	return Topics{
		Added: entityType + ".added",
		Edit:  entityType + ".edited",
	}
}

// SchemaRegistry holds the schemas of all entity types. It is built once at
// start-up and passed to the components that need it.
type SchemaRegistry struct {
	schemas map[string]EntitySchema
}

// NewSchemaRegistry builds a registry, filling in default topics.
func NewSchemaRegistry(schemas ...EntitySchema) (*SchemaRegistry, error) {
	r := &SchemaRegistry{schemas: make(map[string]EntitySchema, len(schemas))}
	for _, s := range schemas {
		if s.Type == "" {
			return nil, fmt.Errorf("schema without type")
		}
		if _, exists := r.schemas[s.Type]; exists {
			return nil, fmt.Errorf("schema %s registered twice", s.Type)
		}
		if s.Topics == (Topics{}) {
			s.Topics = DefaultTopics(s.Type)
		}
		r.schemas[s.Type] = s
	}
	return r, nil
}

// Get returns the schema of an entity type.
func (r *SchemaRegistry) Get(entityType string) (EntitySchema, bool) {
	s, ok := r.schemas[entityType]
	return s, ok
}

// Types returns the registered entity types in sorted order.
func (r *SchemaRegistry) Types() []string {
	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// RelationTypes returns every relation type declared by any schema.
func (r *SchemaRegistry) RelationTypes() []string {
	seen := map[string]struct{}{}
	for _, s := range r.schemas {
		for _, rule := range s.Relations {
			seen[rule.Type] = struct{}{}
		}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// TopicRegistry returns the topic mapping for every type.
func (r *SchemaRegistry) TopicRegistry() map[string]Topics {
	topics := make(map[string]Topics, len(r.schemas))
	for t, s := range r.schemas {
		topics[t] = s.Topics
	}
	return topics
}

var markingRule = RelationRule{
	Type:        RelationObjectMarkingRefs,
	FromRole:    "so",
	ToRole:      "marking",
	TargetTypes: []string{TypeMarkingDefinition},
}

var gatheredTypes = []string{TypeOrganization, TypeIntrusionSet, TypeCampaign, TypeIncident, TypeMalware}

// DefaultSchemas returns the built-in entity types.
func DefaultSchemas() []EntitySchema {
	stix := []string{TypeStixDomainEntity}
	knowledge := func(t string, extra ...RelationRule) EntitySchema {
		return EntitySchema{
			Type:           t,
			Parents:        stix,
			RequiredFields: []string{"name"},
			Relations:      append([]RelationRule{markingRule}, extra...),
		}
	}

	return []EntitySchema{
		{
			Type:           TypeWorkspace,
			RequiredFields: []string{"name"},
			Relations: []RelationRule{
				{Type: RelationOwnedBy, FromRole: "to", ToRole: "owner", TargetTypes: []string{TypeUser}},
				markingRule,
				{Type: RelationObjectRefs, FromRole: "knowledge_aggregation", ToRole: "so", TargetTypes: []string{TypeStixDomainEntity}},
			},
		},
		knowledge(TypeOrganization,
			RelationRule{Type: RelationGathering, FromRole: "part_of", ToRole: "gather", TargetTypes: []string{TypeSector}}),
		knowledge(TypeSector,
			RelationRule{Type: RelationGathering, FromRole: "gather", ToRole: "part_of", TargetTypes: gatheredTypes}),
		knowledge(TypeCampaign),
		knowledge(TypeIntrusionSet),
		knowledge(TypeIncident),
		knowledge(TypeMalware),
		{
			Type:           TypeMarkingDefinition,
			RequiredFields: []string{"definition_type", "definition"},
		},
		{
			Type:           TypeUser,
			RequiredFields: []string{"name"},
		},
	}
}

// DefaultSchemaRegistry builds the registry of built-in types.
func DefaultSchemaRegistry() *SchemaRegistry {
	r, err := NewSchemaRegistry(DefaultSchemas()...)
	if err != nil {
		panic(err)
	}
	return r
}
