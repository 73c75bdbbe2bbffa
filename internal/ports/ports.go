package ports

import (
	"context"
	"io"

	"studiomic/internal/domain"
	"studiomic/internal/protocol"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate       int
	Channels         int
	InputFormat      string
	InputDevice      string
	NoiseSuppression bool
}

// AudioStream is a live hardware capture stream.
type AudioStream interface {
	io.ReadCloser
	Stop() error
}

// AudioDevice opens exclusive microphone streams.
type AudioDevice interface {
	Open(ctx context.Context, cfg AudioConfig) (AudioStream, error)
}

// Recorder is the Audio Capture Unit as seen by the Session Controller.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() ([][]byte, error)
	Recording() bool
	Close() error
}

// EncodedAudio is the canonical transport payload produced from captured chunks.
type EncodedAudio struct {
	Data       []byte
	Format     string
	SampleRate int
	Channels   int
}

// Encoder is the Transcoding Step.
type Encoder interface {
	Encode(chunks [][]byte) (EncodedAudio, error)
}

// Transport delivers one request to the backend and awaits its correlated reply.
type Transport interface {
	Send(ctx context.Context, kind protocol.Kind, payload any) (protocol.Reply, error)
	Connected() bool
}

// ConversationLog is the append-only message history rendered by the UI.
type ConversationLog interface {
	Append(msg domain.Message) domain.Message
	UpdateStatus(id uint64, patch domain.StatusPatch) (domain.Message, bool)
	Snapshot() []domain.Message
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	MessageAppended(msg domain.Message)
	MessageUpdated(msg domain.Message)
	SessionError(code domain.ErrorCode, detail string)
}

// Transcriber is the speech-to-text collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, audio EncodedAudio) (string, error)
}

// TranscriptNormalizer rewrites transcripts deterministically.
type TranscriptNormalizer interface {
	Apply(text string) (string, error)
}

// AssistantReply is what the chat collaborator produced for one user message.
type AssistantReply struct {
	Text       string
	Audio      []byte
	Generation *domain.GenerationResult
}

// Assistant is the chat collaborator.
type Assistant interface {
	Reply(ctx context.Context, message string) (AssistantReply, error)
}

// MIDIConverter turns a hummed recording into a MIDI file.
type MIDIConverter interface {
	Convert(ctx context.Context, audio EncodedAudio) ([]byte, error)
}

// GeneratedTrack is a finished music-generation task.
type GeneratedTrack struct {
	TaskID   string
	TrackURL string
	Format   string
	Audio    []byte
}

// MusicGenerator composes a track from a text prompt.
type MusicGenerator interface {
	Generate(ctx context.Context, prompt string, durationSeconds int) (GeneratedTrack, error)
}

// DAW receives fire-and-forget automation commands.
type DAW interface {
	AddTrack(ctx context.Context, name string) error
	DeleteTrack(ctx context.Context, track string) error
	AddFX(ctx context.Context, track string, fx string) error
	InsertMedia(ctx context.Context, path string, position float64) error
}
