package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTypePredicates(t *testing.T) {
	wrapped := fmt.Errorf("add relation: %w", NewNotFoundError("entity x"))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsValidation(wrapped))

	assert.True(t, IsValidation(NewValidationErrorf("bad %s", "key")))
	assert.True(t, IsTransaction(NewTransactionError("create", errors.New("boom"))))
	assert.True(t, IsSideEffect(NewSideEffectError("notify", errors.New("boom"))))
	assert.True(t, IsUnauthorized(NewUnauthorizedError("")))
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.Nil(t, GetAppError(nil))
}

func TestAsTransaction(t *testing.T) {
	assert.NoError(t, AsTransaction("op", nil))

	notFound := NewNotFoundError("x")
	assert.Same(t, notFound, AsTransaction("op", notFound))

	cause := errors.New("store down")
	err := AsTransaction("delete", cause)
	assert.True(t, IsTransaction(err))
	assert.ErrorIs(t, err, cause)
}

func TestWithCode_CommitConflictIsConflict(t *testing.T) {
	err := NewTransactionError("commit", errors.New("conflict")).WithCode(CodeCommitConflict)
	assert.Equal(t, http.StatusConflict, err.HTTPStatus)

	err = NewTransactionError("commit", errors.New("slow")).WithCode(CodeTimeout)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus)
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "ctx"))

	err := Wrap(NewValidationError("name is required"), "add entity")
	assert.True(t, IsValidation(err))
	assert.Equal(t, "add entity: name is required", GetAppError(err).Message)

	err = Wrapf(errors.New("eof"), "read %s", "body")
	assert.Equal(t, ErrorTypeInternal, GetAppError(err).Type)
}

func handle(t *testing.T, debug bool, err error) (*httptest.ResponseRecorder, ErrorResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-1")
	r := httptest.NewRequest(http.MethodGet, "/api/v2/entities/Malware", nil)

	NewErrorHandler(zap.NewNop(), debug).HandleError(w, r, err)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHandleError_AppError(t *testing.T) {
	w, body := handle(t, false, NewValidationError("first must not be negative").WithDetail("field", "first"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, body.Error)
	assert.Equal(t, "VALIDATION", body.Type)
	assert.Equal(t, "first must not be negative", body.Message)
	assert.Equal(t, "first", body.Details["field"])
	assert.Equal(t, "req-1", body.RequestID)
	assert.NotContains(t, body.Details, "stack_trace")
}

func TestHandleError_SideEffectIsInternal(t *testing.T) {
	w, body := handle(t, false, NewSideEffectError("notify", errors.New("bus closed")))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL", body.Type)
	assert.Equal(t, "An internal error occurred", body.Message)
}

func TestHandleError_DebugExposesDetail(t *testing.T) {
	_, body := handle(t, true, errors.New("raw failure"))
	assert.Equal(t, "raw failure", body.Message)

	_, body = handle(t, true, NewRateLimitError(10, "minute"))
	assert.Equal(t, "RATE_LIMIT", body.Type)
	assert.Contains(t, body.Details, "stack_trace")
}
