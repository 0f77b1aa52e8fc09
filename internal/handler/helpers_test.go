package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamtalk/internal/apperr"
)

func TestWriteError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"not found", apperr.NotFound("conversation not found"), http.StatusNotFound, "not_found"},
		{"forbidden", apperr.Forbidden("not a participant"), http.StatusForbidden, "forbidden"},
		{"conflict", apperr.Conflict("already reacted"), http.StatusConflict, "conflict"},
		{"validation", apperr.Validation("name is required"), http.StatusBadRequest, "validation"},
		{"invalid operation", apperr.InvalidOperation("message can no longer be edited"), http.StatusUnprocessableEntity, "invalid_operation"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, tc.err)

			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.err.Error(), body["error"])
			assert.Equal(t, tc.kind, body["kind"])
		})
	}

	t.Run("unclassified errors become opaque 500s", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeError(w, errors.New("pgx: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "internal server error", body["error"], "internals never leak to clients")
	})
}

func TestDecodeJSON(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
		var dest struct {
			Name string `json:"name"`
		}
		require.NoError(t, decodeJSON(r, &dest))
		assert.Equal(t, "x", dest.Name)
	})

	t.Run("malformed body is a validation error", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{broken`))
		var dest map[string]any
		err := decodeJSON(r, &dest)
		assert.True(t, apperr.IsValidation(err))
	})
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?page=3&bad=x", nil)
	assert.Equal(t, 3, queryInt(r, "page", 1))
	assert.Equal(t, 1, queryInt(r, "bad", 1))
	assert.Equal(t, 20, queryInt(r, "limit", 20))
}
