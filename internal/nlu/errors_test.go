package nlu

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func TestGeminiErrorMapping(t *testing.T) {
	t.Parallel()

	quotaErr := geminiError(genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED"})
	assert.ErrorIs(t, quotaErr, ErrQuotaExhausted)

	wrapped := geminiError(fmt.Errorf("call: %w", genai.APIError{Code: 400, Status: "RESOURCE_EXHAUSTED"}))
	assert.ErrorIs(t, wrapped, ErrQuotaExhausted)

	other := geminiError(genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"})
	assert.ErrorIs(t, other, ErrUnavailable)
	assert.NotErrorIs(t, other, ErrQuotaExhausted)

	assert.ErrorIs(t, geminiError(errors.New("dial tcp: refused")), ErrUnavailable)
	assert.Equal(t, context.Canceled, geminiError(context.Canceled))
}

func TestOpenAIErrorMapping(t *testing.T) {
	t.Parallel()

	quotaErr := openAIError(newOpenAIError(http.StatusTooManyRequests))
	assert.ErrorIs(t, quotaErr, ErrQuotaExhausted)

	other := openAIError(newOpenAIError(http.StatusInternalServerError))
	assert.ErrorIs(t, other, ErrUnavailable)

	assert.ErrorIs(t, openAIError(errors.New("eof")), ErrUnavailable)
	assert.ErrorIs(t, openAIError(fmt.Errorf("post: %w", context.DeadlineExceeded)), context.DeadlineExceeded)
}

func newOpenAIError(code int) *openai.Error {
	return &openai.Error{
		StatusCode: code,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", nil),
		Response:   &http.Response{StatusCode: code},
	}
}
