package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", NewNotFoundError("model"), http.StatusNotFound, "NOT_FOUND"},
		{"validation", NewValidationError("name", "name is required"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"system", NewSystemProtectedError("model", "role"), http.StatusForbidden, "SYSTEM_PROTECTED"},
		{"method", NewMethodNotAllowedError("TRACE"), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{"wrapped conflict", fmt.Errorf("create: %w", NewConflictError("crud")), http.StatusConflict, "CONFLICT"},
		{"plain", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ToHTTPError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, body["error"])
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestToHTTPErrorPassesThroughUnknownMessages(t *testing.T) {
	// Unknown failures keep their raw message; the admin surface relies on it.
	_, body := ToHTTPError(fmt.Errorf("pq: relation \"x\" does not exist"))
	assert.Equal(t, "pq: relation \"x\" does not exist", body["message"])
}

func TestNewNotFoundListsAlternatives(t *testing.T) {
	err := NewNotFound("model", "pesoa", []string{"pessoa", "role"})
	assert.Contains(t, err.Error(), "pesoa")
	assert.Contains(t, err.Error(), "pessoa, role")

	status, body := ToHTTPError(fmt.Errorf("lookup: %w", err))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, []string{"pessoa", "role"}, body["available"])
	assert.True(t, IsNotFound(err))
}
