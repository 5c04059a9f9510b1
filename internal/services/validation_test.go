package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

type validationFixture struct {
	Name  string `validate:"required,min=2"`
	Email string `validate:"required,email"`
}

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid struct", func(t *testing.T) {
		err := vh.ValidateStruct(&validationFixture{
			Name:  "Jane Doe",
			Email: "jane@example.com",
		})
		assert.NoError(t, err)
	})

	t.Run("all fields rejected", func(t *testing.T) {
		err := vh.ValidateStruct(&validationFixture{Name: "J", Email: "not-an-email"})
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 2)
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("without validation details", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("with validation details", func(t *testing.T) {
		vh := NewValidationHelper()
		validationErr := vh.ValidateStruct(&validationFixture{Name: "J", Email: "nope"})
		assert.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Validation failed", response.Error)
		assert.Contains(t, response.Details, "Name")
		assert.Contains(t, response.Details, "Email")
	})
}

func TestSendPaginatedResponse(t *testing.T) {
	t.Run("computes total pages with a partial last page", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendPaginatedResponse(w, []string{"a", "b"}, 2, 21, 10, 1)

		assert.Equal(t, http.StatusOK, w.Code)
		var response PaginatedResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "success", response.Status)
		assert.Equal(t, 2, response.Results)
		assert.Equal(t, 3, response.TotalPages)
		assert.Equal(t, 1, response.CurrentPage)
	})

	t.Run("empty result set", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendPaginatedResponse(w, []string{}, 0, 0, 10, 1)

		var response PaginatedResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, 0, response.Results)
		assert.Equal(t, 0, response.TotalPages)
	})
}
