// Package protocol defines the envelopes exchanged between the desktop app and
// the backend daemon. Each websocket text frame carries exactly one envelope.
package protocol

import (
	"encoding/json"

	"studiomic/internal/domain"
)

// Kind identifies what the backend should do with a request.
type Kind string

const (
	KindMessage               Kind = "message"
	KindAudioForTranscription Kind = "audioForTranscription"
	KindAudioForConversion    Kind = "audioForConversion"

	// KindCancel asks the backend to stop work on the request with the same ID.
	// It carries no payload and gets no reply.
	KindCancel Kind = "cancel"
)

// MaxMessageSize bounds a single envelope on the wire.
const MaxMessageSize = 32 * 1024 * 1024

// Request is sent by the desktop app. ID is the correlation id.
type Request struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Reply answers exactly one Request with the same ID.
type Reply struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// MessagePayload carries a chat message.
type MessagePayload struct {
	Message string `json:"message"`
}

// AudioPayload carries one canonical encoded recording. Audio is base64 on the wire.
type AudioPayload struct {
	Audio      []byte `json:"audio"`
	Format     string `json:"format"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// ReplyPayload is the success payload shared by every request kind. Audio is
// only set for generated media the backend could not store.
type ReplyPayload struct {
	Response         string                   `json:"response,omitempty"`
	Transcript       string                   `json:"transcript,omitempty"`
	Audio            []byte                   `json:"audio,omitempty"`
	GenerationResult *domain.GenerationResult `json:"generationResult,omitempty"`
}

// NewRequest marshals payload into a request envelope.
func NewRequest(id string, kind Kind, payload any) (Request, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Request{}, err
	}
	return Request{ID: id, Kind: kind, Payload: raw}, nil
}

// Success builds a successful reply for id.
func Success(id string, payload ReplyPayload) Reply {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Failure(id, err.Error())
	}
	return Reply{ID: id, Success: true, Payload: raw}
}

// CancelRequest builds the envelope that abandons request id.
func CancelRequest(id string) Request {
	return Request{ID: id, Kind: KindCancel}
}

// Failure builds a failed reply for id.
func Failure(id string, detail string) Reply {
	return Reply{ID: id, Success: false, Error: detail}
}

// DecodePayload unmarshals a successful reply payload. An empty payload decodes
// to the zero value.
func (r Reply) DecodePayload() (ReplyPayload, error) {
	var payload ReplyPayload
	if len(r.Payload) == 0 {
		return payload, nil
	}
	err := json.Unmarshal(r.Payload, &payload)
	return payload, err
}
