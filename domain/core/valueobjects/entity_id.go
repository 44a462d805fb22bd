package valueobjects

import (
	"errors"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const maxEntityIDLength = 128

// EntityID identifies an entity or a relation in the graph store.
// Ids are assigned by the store; callers only ever pass them back.
type EntityID struct {
	value string
}

// NewEntityID creates a new random EntityID
func NewEntityID() EntityID {
	return EntityID{value: uuid.New().String()}
}

// NewEntityIDFromString creates an EntityID from an existing string
func NewEntityIDFromString(id string) (EntityID, error) {
	if err := ValidateID(id); err != nil {
		return EntityID{}, err
	}
	return EntityID{value: id}, nil
}

// String returns the string representation of the EntityID
func (id EntityID) String() string {
	return id.value
}

// Equals checks if two EntityIDs are equal
func (id EntityID) Equals(other EntityID) bool {
	return id.value == other.value
}

// IsZero checks if the EntityID is the zero value
func (id EntityID) IsZero() bool {
	return id.value == ""
}

// ValidateID rejects empty, oversized and control-character ids.
// Ids from other stores (user ids from the identity provider) are not
// required to be UUIDs.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id cannot be empty")
	}
	if len(id) > maxEntityIDLength {
		return errors.New("id is too long")
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return errors.New("id contains control characters")
		}
	}
	return nil
}
