package domain

import "time"

// SessionState models the recording lifecycle.
type SessionState string

const (
	SessionStateIdle          SessionState = "idle"
	SessionStateRecording     SessionState = "recording"
	SessionStateFinalizing    SessionState = "finalizing"
	SessionStateAwaitingReply SessionState = "awaiting_reply"
	SessionStateComplete      SessionState = "complete"
	SessionStateFailed        SessionState = "failed"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady              SessionStateReason = "ready"
	SessionReasonRecordingStarted   SessionStateReason = "recording_started"
	SessionReasonEncoding           SessionStateReason = "encoding"
	SessionReasonAwaitingBackend    SessionStateReason = "awaiting_backend"
	SessionReasonReplyReceived      SessionStateReason = "reply_received"
	SessionReasonRecordingDiscarded SessionStateReason = "recording_discarded"
	SessionReasonDeviceUnavailable  SessionStateReason = "device_unavailable"
	SessionReasonEncodingFailed     SessionStateReason = "encoding_failed"
	SessionReasonBackendTimeout     SessionStateReason = "backend_timeout"
	SessionReasonChannelClosed      SessionStateReason = "channel_closed"
	SessionReasonNotConnected       SessionStateReason = "not_connected"
	SessionReasonRemoteError        SessionStateReason = "remote_error"
	SessionReasonCancelled          SessionStateReason = "cancelled"
	SessionReasonReset              SessionStateReason = "reset"
)

// ErrorCode identifies failures surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup           ErrorCode = "startup"
	ErrorCodeDeviceUnavailable ErrorCode = "device_unavailable"
	ErrorCodeAudioStream       ErrorCode = "audio_stream"
	ErrorCodeEncoding          ErrorCode = "encoding"
	ErrorCodeBackendTimeout    ErrorCode = "backend_timeout"
	ErrorCodeChannelClosed     ErrorCode = "channel_closed"
	ErrorCodeNotConnected      ErrorCode = "not_connected"
	ErrorCodeRemote            ErrorCode = "remote"
	ErrorCodeInvalidInput      ErrorCode = "invalid_input"
)

// RecordingMode selects what the backend does with a finished recording.
type RecordingMode string

const (
	RecordingModeVoice RecordingMode = "voice"
	RecordingModeHum   RecordingMode = "hum"
)

// RecordingSession is one pass through the capture state machine.
type RecordingSession struct {
	ID            uint64
	Mode          RecordingMode
	State         SessionState
	Chunks        [][]byte
	StartedAt     time.Time
	StoppedAt     time.Time
	CorrelationID string
}

// Sender identifies who authored a conversation entry.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// MessageKind identifies the payload carried by a conversation entry.
type MessageKind string

const (
	MessageKindText             MessageKind = "text"
	MessageKindAudioAttachment  MessageKind = "audioAttachment"
	MessageKindGenerationResult MessageKind = "generationResult"
)

// GenerationResult describes an artifact produced by a backend collaborator.
type GenerationResult struct {
	Kind     string `json:"kind"`
	TaskID   string `json:"taskId,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Path     string `json:"path,omitempty"`
	TrackURL string `json:"trackUrl,omitempty"`
	Format   string `json:"format,omitempty"`
}

// Message is one Conversation Log entry. ID, Sender and CreatedAt never change
// once appended; Playing is the only mutable field.
type Message struct {
	ID         uint64            `json:"id"`
	Sender     Sender            `json:"sender"`
	Kind       MessageKind       `json:"kind"`
	Text       string            `json:"text,omitempty"`
	Transcript string            `json:"transcript,omitempty"`
	Audio      []byte            `json:"audio,omitempty"`
	Generation *GenerationResult `json:"generation,omitempty"`
	Failed     bool              `json:"failed,omitempty"`
	Playing    bool              `json:"playing"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// StatusPatch lists the mutable fields of a Message. Nil fields are left alone.
type StatusPatch struct {
	Playing *bool
}

// StopResult is returned once a recording has been answered by the backend.
type StopResult struct {
	CorrelationID string  `json:"correlationId"`
	Message       Message `json:"message"`
}

// Status summarizes the current runtime status.
type Status struct {
	State     SessionState  `json:"state"`
	Mode      RecordingMode `json:"mode,omitempty"`
	Active    bool          `json:"active"`
	Connected bool          `json:"connected"`
	Message   string        `json:"message,omitempty"`
}
