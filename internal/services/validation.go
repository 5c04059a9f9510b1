package services

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse is the JSON error envelope shared by every handler.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"` // per-field validation failures
}

// PaginatedResponse wraps list endpoints. Results is the number of items in
// this page, not the overall total.
type PaginatedResponse struct {
	Status      string `json:"status"`
	Results     int    `json:"results"`
	TotalPages  int    `json:"totalPages"`
	CurrentPage int    `json:"currentPage"`
	Data        any    `json:"data"`
}

// ValidationHelper provides shared request validation
type ValidationHelper struct {
	validator *validator.Validate
}

func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct against its validate tags
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		if fieldErrs, ok := validationErr.(validator.ValidationErrors); ok {
			errorResp.Details = make(map[string]string)
			for _, err := range fieldErrs {
				errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
			}
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendPaginatedResponse sends one page of results in the standard envelope.
func SendPaginatedResponse(w http.ResponseWriter, data any, count, total, limit, page int) {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PaginatedResponse{
		Status:      "success",
		Results:     count,
		TotalPages:  totalPages,
		CurrentPage: page,
		Data:        data,
	})
}
