package services

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Cix-16/opencti/application/ports"
	"github.com/Cix-16/opencti/domain/config"
	"github.com/Cix-16/opencti/domain/core/entities"
	"github.com/Cix-16/opencti/domain/core/validators"
	"github.com/Cix-16/opencti/pkg/errors"
	"github.com/Cix-16/opencti/pkg/utils"
)

// EditContextCoordinator tracks which users are editing which entity. Each
// (entity, user) pair is one TTL store entry partitioned by entity id, so
// a context disappears on its own if the user never cleans it.
type EditContextCoordinator struct {
	store  ports.TTLStore
	ttl    time.Duration
	clock  utils.Clock
	logger *zap.Logger
}

// NewEditContextCoordinator creates a coordinator
func NewEditContextCoordinator(store ports.TTLStore, cfg *config.DomainConfig, clock utils.Clock, logger *zap.Logger) *EditContextCoordinator {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &EditContextCoordinator{store: store, ttl: cfg.EditContextTTL, clock: clock, logger: logger}
}

// SetEditContext upserts the context of user on entityID and refreshes its TTL
func (c *EditContextCoordinator) SetEditContext(ctx context.Context, user *entities.User, entityID string, input entities.EditInput) error {
	if err := c.check(user, entityID); err != nil {
		return err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}

	value, err := json.Marshal(entities.EditContext{
		EntityID:  entityID,
		UserID:    user.ID,
		Username:  user.DisplayName(),
		FocusOn:   input.FocusOn,
		UpdatedAt: c.clock.Now(),
	})
	if err != nil {
		return errors.NewSideEffectError("set_edit_context", err)
	}
	if err := c.store.Set(ctx, entityID, user.ID, value, c.ttl); err != nil {
		return errors.NewSideEffectError("set_edit_context", err)
	}
	return nil
}

// DelEditContext removes the context of user on entityID
func (c *EditContextCoordinator) DelEditContext(ctx context.Context, user *entities.User, entityID string) error {
	if err := c.check(user, entityID); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, entityID, user.ID); err != nil {
		return errors.NewSideEffectError("del_edit_context", err)
	}
	return nil
}

// FetchEditContext returns the live contexts of entityID ordered by user
func (c *EditContextCoordinator) FetchEditContext(ctx context.Context, entityID string) ([]entities.EditContext, error) {
	if err := validators.ValidateID("id", entityID); err != nil {
		return nil, err
	}
	values, err := c.store.List(ctx, entityID)
	if err != nil {
		return nil, errors.NewSideEffectError("fetch_edit_context", err)
	}

	contexts := make([]entities.EditContext, 0, len(values))
	for _, v := range values {
		var ec entities.EditContext
		if err := json.Unmarshal(v, &ec); err != nil {
			c.logger.Warn("skipping malformed edit context",
				zap.String("entity_id", entityID),
				zap.Error(err))
			continue
		}
		contexts = append(contexts, ec)
	}
	sort.Slice(contexts, func(i, j int) bool { return contexts[i].UserID < contexts[j].UserID })
	return contexts, nil
}

func (c *EditContextCoordinator) check(user *entities.User, entityID string) error {
	if user == nil || user.ID == "" {
		return errors.NewUnauthorizedError("an edit context needs a user")
	}
	return validators.ValidateID("id", entityID)
}
