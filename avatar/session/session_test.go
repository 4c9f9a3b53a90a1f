package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/avatarflow/types"
)

type recordingSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *recordingSink) Send(ev types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Events() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Event(nil), s.events...)
}

func newTestSession(t *testing.T) (*Session, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	return newSession(context.Background(), "session_test", sink, 10, zap.NewNop()), sink
}

func TestSession_TurnLifecycle(t *testing.T) {
	s, _ := newTestSession(t)
	assert.Equal(t, types.StageIdle, s.Stage())

	turn, err := s.BeginTurn(types.StageTranscribing)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), turn)

	for _, st := range []types.Stage{
		types.StageGenerating, types.StageSynthesizing, types.StageRendering, types.StageDelivering,
	} {
		require.NoError(t, s.Advance(turn, st))
		assert.Equal(t, st, s.Stage())
	}
	s.EndTurn(turn, true)
	assert.Equal(t, types.StageIdle, s.Stage())

	info := s.Info()
	assert.Equal(t, uint64(1), info.TurnsStarted)
	assert.Equal(t, uint64(1), info.TurnsCompleted)
}

func TestSession_RejectsWhileBusy(t *testing.T) {
	s, _ := newTestSession(t)

	turn, err := s.BeginTurn(types.StageGenerating)
	require.NoError(t, err)

	_, err = s.BeginTurn(types.StageGenerating)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrSessionBusy))

	require.NoError(t, s.Advance(turn, types.StageError))
	s.EndTurn(turn, false)

	next, err := s.BeginTurn(types.StageGenerating)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)
	assert.Equal(t, uint64(0), s.Info().TurnsCompleted)
}

func TestSession_InvalidTransitions(t *testing.T) {
	s, _ := newTestSession(t)

	_, err := s.BeginTurn(types.StageRendering)
	assert.True(t, types.IsErrorCode(err, types.ErrInternalError))

	turn, err := s.BeginTurn(types.StageGenerating)
	require.NoError(t, err)

	err = s.Advance(turn, types.StageDelivering)
	assert.True(t, types.IsErrorCode(err, types.ErrInternalError))

	err = s.Advance(turn+1, types.StageSynthesizing)
	assert.True(t, types.IsErrorCode(err, types.ErrInternalError))

	// 过期 turn 的 EndTurn 不影响当前 turn
	s.EndTurn(turn+1, true)
	assert.Equal(t, types.StageGenerating, s.Stage())
}

func TestSession_EmitSequencesAndDropsAfterClose(t *testing.T) {
	s, sink := newTestSession(t)

	require.NoError(t, s.Emit(types.StatusEvent(types.StatusThinking)))
	require.NoError(t, s.Emit(types.ResponseEvent("hi")))

	assert.True(t, s.Close())
	assert.False(t, s.Close())
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)

	err := s.Emit(types.VideoReadyEvent("/video/x.mp4"))
	assert.True(t, types.IsErrorCode(err, types.ErrSessionClosed))

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, uint64(2), events[1].Seq)

	_, err = s.BeginTurn(types.StageGenerating)
	assert.True(t, types.IsErrorCode(err, types.ErrSessionClosed))
}

func TestSession_EmitConcurrentSeqMonotonic(t *testing.T) {
	s, sink := newTestSession(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Emit(types.StatusEvent(types.StatusThinking))
		}()
	}
	wg.Wait()

	events := sink.Events()
	require.Len(t, events, 50)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
}

func TestSession_ApplySettings(t *testing.T) {
	s, _ := newTestSession(t)

	prompt := "A person smiling"
	lang := "en"
	got := s.ApplySettings(SettingsPatch{Prompt: &prompt, Language: &lang})
	assert.Equal(t, "A person smiling", got.Prompt)
	assert.Equal(t, "en", got.Language)
	assert.Empty(t, got.ReferenceImage)

	img := "examples/woman.png"
	got = s.ApplySettings(SettingsPatch{ReferenceImage: &img})
	assert.Equal(t, "A person smiling", got.Prompt)
	assert.Equal(t, "examples/woman.png", s.Settings().ReferenceImage)
}

func TestSession_ContextCarriesID(t *testing.T) {
	s, _ := newTestSession(t)
	id, ok := types.SessionID(s.Context())
	require.True(t, ok)
	assert.Equal(t, "session_test", id)
}
