package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/argus/internal/models"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteDomainError maps domain error types onto HTTP status codes.
func WriteDomainError(w http.ResponseWriter, err error) error {
	var validationErr *models.ValidationError
	var notFoundErr *models.NotFoundError

	switch {
	case errors.As(err, &validationErr):
		return WriteError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &notFoundErr):
		return WriteError(w, http.StatusNotFound, notFoundErr.Error())
	default:
		return WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
