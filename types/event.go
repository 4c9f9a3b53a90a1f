package types

// EventType 出站帧类型
type EventType string

const (
	EventConnection    EventType = "connection"
	EventStatus        EventType = "status"
	EventTranscription EventType = "transcription"
	EventResponse      EventType = "response"
	EventVideoReady    EventType = "video_ready"
	EventConfigUpdated EventType = "config_updated"
	EventError         EventType = "error"
)

// Status values carried by status frames.
const (
	StatusTranscribing    = "transcribing"
	StatusThinking        = "thinking"
	StatusSynthesizing    = "synthesizing"
	StatusGeneratingVideo = "generating_video"
)

// statusMessages 与状态一一对应的提示文案
var statusMessages = map[string]string{
	StatusTranscribing:    "Transcribing your speech...",
	StatusThinking:        "Generating response...",
	StatusSynthesizing:    "Synthesizing speech...",
	StatusGeneratingVideo: "Generating avatar video...",
}

// Event is one outbound frame. Seq is assigned by the owning session.
type Event struct {
	Type      EventType `json:"type"`
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"session_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Text      *string   `json:"text,omitempty"`
	VideoURL  string    `json:"video_url,omitempty"`
	Code      ErrorCode `json:"code,omitempty"`
}

// ConnectionEvent 连接建立帧
func ConnectionEvent(sessionID string) Event {
	return Event{Type: EventConnection, SessionID: sessionID, Message: "Connected to Interactive Avatar"}
}

// StatusEvent 进度帧
func StatusEvent(status string) Event {
	return Event{Type: EventStatus, Status: status, Message: statusMessages[status]}
}

// TranscriptionEvent carries the transcript, which may be empty.
func TranscriptionEvent(text string) Event {
	return Event{Type: EventTranscription, Text: &text}
}

// ResponseEvent carries the generated reply.
func ResponseEvent(text string) Event {
	return Event{Type: EventResponse, Text: &text}
}

// VideoReadyEvent 结果帧
func VideoReadyEvent(url string) Event {
	return Event{Type: EventVideoReady, VideoURL: url, Message: "Avatar video ready!"}
}

// ConfigUpdatedEvent 配置确认帧
func ConfigUpdatedEvent() Event {
	return Event{Type: EventConfigUpdated, Message: "Configuration updated"}
}

// ErrorEvent builds an error frame with a human-readable message.
func ErrorEvent(err error) Event {
	ev := Event{Type: EventError, Message: "Processing failed"}
	if err == nil {
		return ev
	}
	if e, ok := AsError(err); ok {
		ev.Code = e.Code
		ev.Message = e.Message
		return ev
	}
	ev.Code = ErrInternalError
	ev.Message = "Processing failed: " + err.Error()
	return ev
}
