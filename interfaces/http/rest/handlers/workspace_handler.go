package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Cix-16/opencti/application/queries"
	querybus "github.com/Cix-16/opencti/application/queries/bus"
	"github.com/Cix-16/opencti/pkg/common"
	"github.com/Cix-16/opencti/pkg/errors"
)

// WorkspaceHandler serves the workspace relation listings
type WorkspaceHandler struct {
	queryBus *querybus.QueryBus
	errors   *errors.ErrorHandler
}

// NewWorkspaceHandler creates a new workspace handler
func NewWorkspaceHandler(queryBus *querybus.QueryBus, errHandler *errors.ErrorHandler) *WorkspaceHandler {
	return &WorkspaceHandler{queryBus: queryBus, errors: errHandler}
}

// Routes mounts the routes under /workspaces/{id}
func (h *WorkspaceHandler) Routes(r chi.Router) {
	r.Get("/owned-by", h.OwnedBy)
	r.Get("/markings", h.Markings)
	r.Get("/objects", h.Objects)
}

// OwnedBy handles GET /workspaces/{id}/owned-by. A workspace without owner
// answers with null data.
func (h *WorkspaceHandler) OwnedBy(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.OwnedByQuery{WorkspaceID: chi.URLParam(r, "id")})
}

// Markings handles GET /workspaces/{id}/markings
func (h *WorkspaceHandler) Markings(w http.ResponseWriter, r *http.Request) {
	args, err := common.ExtractPaginationArgs(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	h.ask(w, r, queries.MarkingDefinitionsQuery{WorkspaceID: chi.URLParam(r, "id"), Args: args})
}

// Objects handles GET /workspaces/{id}/objects
func (h *WorkspaceHandler) Objects(w http.ResponseWriter, r *http.Request) {
	args, err := common.ExtractPaginationArgs(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	h.ask(w, r, queries.ObjectRefsQuery{WorkspaceID: chi.URLParam(r, "id"), Args: args})
}

func (h *WorkspaceHandler) ask(w http.ResponseWriter, r *http.Request, query querybus.Query) {
	result, err := h.queryBus.Ask(r.Context(), query)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}
