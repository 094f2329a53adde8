package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLivenessReportsOkWithoutDependencies(t *testing.T) {
	h := NewHealth(nil)
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.Liveness(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}
