package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("bad %s", "input"), http.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("begin: %w", Validation("nope")), http.StatusBadRequest},
		{"not found", fmt.Errorf("run 4: %w", ErrNotFound), http.StatusNotFound},
		{"config", ConfigError("GEMINI_API_KEY is not set"), http.StatusInternalServerError},
		{"upstream", &UpstreamError{Status: 429, Detail: "quota"}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestConfigErrorMessage(t *testing.T) {
	err := ConfigError("GEMINI_API_KEY is not set")
	assert.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}
