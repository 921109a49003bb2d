package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		message string
	}{
		{name: "bad request", code: http.StatusBadRequest, message: "Missing prompt"},
		{name: "forbidden", code: http.StatusForbidden, message: "Your IP is blocked"},
		{name: "conflict", code: http.StatusConflict, message: "email already registered"},
		{name: "quota", code: http.StatusTooManyRequests, message: "daily limit reached"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			RespondWithError(w, tt.code, tt.message)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.message, response.Error)
		})
	}
}

func TestRespondWithJSON(t *testing.T) {
	t.Run("struct payload", func(t *testing.T) {
		w := httptest.NewRecorder()
		payload := struct {
			Success bool   `json:"success"`
			APIKey  string `json:"api_key"`
		}{Success: true, APIKey: "wz-abc"}

		require.NoError(t, RespondWithJSON(w, http.StatusOK, payload))

		var response map[string]any
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, true, response["success"])
		assert.Equal(t, "wz-abc", response["api_key"])
	})

	t.Run("unencodable payload", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := RespondWithJSON(w, http.StatusOK, map[string]any{"ch": make(chan int)})
		assert.Error(t, err)
	})
}

func TestRespondWithRawJSON(t *testing.T) {
	w := httptest.NewRecorder()
	RespondWithRawJSON(w, http.StatusOK, []byte(`{"result":{"response":"hi"}}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"result":{"response":"hi"}}`, w.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Email string `json:"email"`
	}

	t.Run("valid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"email":"a@b.c"}`))
		var b body
		require.NoError(t, DecodeJSON(r, &b))
		assert.Equal(t, "a@b.c", b.Email)
	})

	t.Run("empty body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(""))
		var b body
		require.NoError(t, DecodeJSON(r, &b))
		assert.Empty(t, b.Email)
	})

	t.Run("malformed", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"email":`))
		var b body
		assert.Error(t, DecodeJSON(r, &b))
	})
}
