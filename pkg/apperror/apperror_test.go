package apperror

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NewNotFound("job", "abc-123")
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus)
	assert.Equal(t, "not_found", err.Code)
	assert.Equal(t, "not_found: job 'abc-123' not found", err.Error())
}

func TestWithInternalUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := ErrDatabase.WithInternal(cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
	// the shared definition must not be mutated
	assert.Nil(t, ErrDatabase.Internal)
}

func TestWithMessageCopies(t *testing.T) {
	err := ErrBadRequest.WithMessage("limit must be a positive integer")
	assert.Equal(t, "limit must be a positive integer", err.Message)
	assert.Equal(t, "Invalid request", ErrBadRequest.Message)
}

func serve(t *testing.T, err error) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	e := echo.New()
	e.HTTPErrorHandler = HTTPErrorHandler(slog.New(slog.DiscardHandler))
	e.GET("/boom", func(c echo.Context) error { return err })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	inner, ok := body["error"].(map[string]any)
	require.True(t, ok, "response must carry an error envelope")
	return rec, inner
}

func TestHandlerRendersAppError(t *testing.T) {
	rec, inner := serve(t, NewBadRequest("job_type is required"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", inner["code"])
	assert.Equal(t, "job_type is required", inner["message"])
}

func TestHandlerRendersEchoError(t *testing.T) {
	rec, inner := serve(t, echo.NewHTTPError(http.StatusNotFound, "no such route"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", inner["code"])
	assert.Equal(t, "no such route", inner["message"])
}

func TestHandlerHidesUnknownErrors(t *testing.T) {
	rec, inner := serve(t, errors.New("pq: relation does not exist"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", inner["code"])
	assert.NotContains(t, inner["message"], "pq:")
}
