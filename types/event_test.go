package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptionEvent_EmptyTextStillSerialized(t *testing.T) {
	data, err := json.Marshal(TranscriptionEvent(""))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "transcription", raw["type"])
	assert.Contains(t, raw, "text")
	assert.Equal(t, "", raw["text"])
}

func TestStatusEvent_Messages(t *testing.T) {
	assert.Equal(t, "Transcribing your speech...", StatusEvent(StatusTranscribing).Message)
	assert.Equal(t, "Generating response...", StatusEvent(StatusThinking).Message)
	assert.Equal(t, "Synthesizing speech...", StatusEvent(StatusSynthesizing).Message)
	assert.Equal(t, "Generating avatar video...", StatusEvent(StatusGeneratingVideo).Message)
}

func TestErrorEvent(t *testing.T) {
	ev := ErrorEvent(NewError(ErrRender, "Avatar generation failed"))
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, ErrRender, ev.Code)
	assert.Equal(t, "Avatar generation failed", ev.Message)

	ev = ErrorEvent(errors.New("boom"))
	assert.Equal(t, ErrInternalError, ev.Code)
	assert.Equal(t, "Processing failed: boom", ev.Message)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StageIdle, StageTranscribing))
	assert.True(t, CanTransition(StageIdle, StageGenerating))
	assert.True(t, CanTransition(StageRendering, StageError))
	assert.True(t, CanTransition(StageError, StageIdle))
	assert.False(t, CanTransition(StageIdle, StageRendering))
	assert.False(t, CanTransition(StageGenerating, StageIdle))
	assert.False(t, CanTransition(StageIdle, StageError))

	assert.True(t, StageRendering.IsWorking())
	assert.False(t, StageIdle.IsWorking())
	assert.False(t, StageError.IsWorking())
}
