package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Cix-16/opencti/application/commands"
	"github.com/Cix-16/opencti/application/commands/bus"
	"github.com/Cix-16/opencti/application/queries"
	querybus "github.com/Cix-16/opencti/application/queries/bus"
	"github.com/Cix-16/opencti/application/services"
	"github.com/Cix-16/opencti/domain/core/entities"
	"github.com/Cix-16/opencti/pkg/auth"
	"github.com/Cix-16/opencti/pkg/common"
	"github.com/Cix-16/opencti/pkg/errors"
)

const maxBodyBytes = 1 << 20

// EntityHandler serves the entity routes of every registered type
type EntityHandler struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	errors     *errors.ErrorHandler
	logger     *zap.Logger
}

// NewEntityHandler creates a new entity handler
func NewEntityHandler(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	errHandler *errors.ErrorHandler,
	logger *zap.Logger,
) *EntityHandler {
	return &EntityHandler{
		commandBus: commandBus,
		queryBus:   queryBus,
		errors:     errHandler,
		logger:     logger,
	}
}

// Routes mounts the entity routes under /entities/{type}
func (h *EntityHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Patch("/", h.EditField)
		r.Get("/context", h.EditContexts)
		r.Put("/context", h.EditContext)
		r.Delete("/context", h.CleanContext)
		r.Post("/relations", h.AddRelation)
		r.Post("/relations/batch", h.AddRelations)
		r.Delete("/relations/{relationID}", h.DeleteRelation)
	})
}

// List handles GET /entities/{type}
func (h *EntityHandler) List(w http.ResponseWriter, r *http.Request) {
	args, err := common.ExtractPaginationArgs(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	h.ask(w, r, queries.FindAllQuery{EntityType: entityType(r), Args: args})
}

// Get handles GET /entities/{type}/{id}
func (h *EntityHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.FindByIDQuery{EntityType: entityType(r), ID: chi.URLParam(r, "id")})
}

// EditContexts handles GET /entities/{type}/{id}/context
func (h *EntityHandler) EditContexts(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.EditContextsQuery{EntityType: entityType(r), ID: chi.URLParam(r, "id")})
}

// Create handles POST /entities/{type}
func (h *EntityHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input services.AddEntityInput
	if !h.decode(w, r, &input) {
		return
	}
	h.send(w, r, http.StatusCreated, commands.AddEntityCommand{
		EntityType: entityType(r),
		User:       currentUser(r),
		Input:      input,
	})
}

// Delete handles DELETE /entities/{type}/{id}
func (h *EntityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, http.StatusOK, commands.DeleteEntityCommand{
		EntityType: entityType(r),
		User:       currentUser(r),
		ID:         chi.URLParam(r, "id"),
	})
}

// EditField handles PATCH /entities/{type}/{id}
func (h *EntityHandler) EditField(w http.ResponseWriter, r *http.Request) {
	var input entities.AttributeEdit
	if !h.decode(w, r, &input) {
		return
	}
	h.send(w, r, http.StatusOK, commands.EditFieldCommand{
		EntityType: entityType(r),
		User:       currentUser(r),
		ID:         chi.URLParam(r, "id"),
		Input:      input,
	})
}

// EditContext handles PUT /entities/{type}/{id}/context
func (h *EntityHandler) EditContext(w http.ResponseWriter, r *http.Request) {
	var input entities.EditInput
	if !h.decode(w, r, &input) {
		return
	}
	h.send(w, r, http.StatusOK, commands.EditContextCommand{
		EntityType: entityType(r),
		User:       currentUser(r),
		ID:         chi.URLParam(r, "id"),
		Input:      input,
	})
}

// CleanContext handles DELETE /entities/{type}/{id}/context
func (h *EntityHandler) CleanContext(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, http.StatusOK, commands.CleanContextCommand{
		EntityType: entityType(r),
		User:       currentUser(r),
		ID:         chi.URLParam(r, "id"),
	})
}

// AddRelation handles POST /entities/{type}/{id}/relations
func (h *EntityHandler) AddRelation(w http.ResponseWriter, r *http.Request) {
	var input services.RelationAddInput
	if !h.decode(w, r, &input) {
		return
	}
	h.send(w, r, http.StatusCreated, commands.AddRelationCommand{
		EntityType: entityType(r),
		User:       currentUser(r),
		ID:         chi.URLParam(r, "id"),
		Input:      input,
	})
}

// AddRelations handles POST /entities/{type}/{id}/relations/batch
func (h *EntityHandler) AddRelations(w http.ResponseWriter, r *http.Request) {
	var input services.RelationsAddInput
	if !h.decode(w, r, &input) {
		return
	}
	h.send(w, r, http.StatusCreated, commands.AddRelationsCommand{
		EntityType: entityType(r),
		User:       currentUser(r),
		ID:         chi.URLParam(r, "id"),
		Input:      input,
	})
}

// DeleteRelation handles DELETE /entities/{type}/{id}/relations/{relationID}
func (h *EntityHandler) DeleteRelation(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, http.StatusOK, commands.DeleteRelationCommand{
		EntityType: entityType(r),
		User:       currentUser(r),
		ID:         chi.URLParam(r, "id"),
		RelationID: chi.URLParam(r, "relationID"),
	})
}

func (h *EntityHandler) send(w http.ResponseWriter, r *http.Request, status int, cmd bus.Command) {
	result, err := h.commandBus.Send(r.Context(), cmd)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	common.RespondJSON(w, status, result)
}

func (h *EntityHandler) ask(w http.ResponseWriter, r *http.Request, query querybus.Query) {
	result, err := h.queryBus.Ask(r.Context(), query)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}

func (h *EntityHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := common.ParseJSONBody(w, r, v, maxBodyBytes); err != nil {
		h.errors.HandleError(w, r, errors.NewValidationError("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func entityType(r *http.Request) string {
	return chi.URLParam(r, "type")
}

// currentUser returns nil for anonymous requests; commands reject those.
func currentUser(r *http.Request) *entities.User {
	u, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		return nil
	}
	return &entities.User{ID: u.UserID, Name: u.Name, Email: u.Email}
}
