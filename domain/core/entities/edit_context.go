package entities

import "time"

// EditContext marks that a user is currently editing a field of an entity.
// It only lives in the TTL store.
type EditContext struct {
	EntityID  string    `json:"entity_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"name"`
	FocusOn   string    `json:"focusOn"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EditInput is the focus of an edit context.
type EditInput struct {
	FocusOn string `json:"focusOn" validate:"max=100"`
}

// AttributeEdit replaces a single attribute.
type AttributeEdit struct {
	Key   string      `json:"key" validate:"required,max=64"`
	Value interface{} `json:"value"`
}
