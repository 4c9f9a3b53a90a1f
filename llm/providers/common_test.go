package providers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/avatarflow/types"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{400, false},
		{401, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		err := MapHTTPError(tt.status, "boom", "openai", types.ErrGeneration)
		assert.Equal(t, types.ErrGeneration, err.Code)
		assert.Equal(t, tt.status, err.HTTPStatus)
		assert.Equal(t, tt.retryable, err.Retryable, "status %d", tt.status)
		assert.Equal(t, "openai", err.Provider)
	}
}

func TestReadErrorMessage(t *testing.T) {
	assert.Equal(t, "bad key (type: invalid_request_error)",
		ReadErrorMessage(strings.NewReader(`{"error":{"message":"bad key","type":"invalid_request_error"}}`)))
	assert.Equal(t, "quota", ReadErrorMessage(strings.NewReader(`{"error":{"message":"quota"}}`)))
	assert.Equal(t, "voice not found", ReadErrorMessage(strings.NewReader(`{"detail":"voice not found"}`)))
	assert.Equal(t, "plain text", ReadErrorMessage(strings.NewReader("plain text")))
}

func TestUpstreamError(t *testing.T) {
	err := UpstreamError(assert.AnError, "whisper", types.ErrTranscription)
	assert.True(t, err.Retryable)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, types.ErrTranscription, err.Code)
}
