package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"studiomic/internal/domain"
	"studiomic/internal/logging"
	"studiomic/internal/ports"
	"studiomic/internal/protocol"
)

var errNoSpeech = errors.New("no speech detected in recording")

// Deps are the collaborators a Dispatcher routes to. Any of them may be nil;
// requests that need a missing collaborator fail with a descriptive error.
type Deps struct {
	Assistant   ports.Assistant
	Transcriber ports.Transcriber
	Normalizer  ports.TranscriptNormalizer
	Converter   ports.MIDIConverter
	DAW         ports.DAW
	MediaDir    string
}

// Dispatcher turns one request envelope into one reply envelope.
type Dispatcher struct {
	deps Deps
}

func NewDispatcher(deps Deps) *Dispatcher {
	return &Dispatcher{deps: deps}
}

func (d *Dispatcher) Handle(ctx context.Context, req protocol.Request) protocol.Reply {
	reqLog := logging.FromContext(ctx)
	start := time.Now()

	payload, err := d.route(ctx, req)
	if err != nil {
		reqLog.Warn("request failed", logging.KeyError, err, "durationMs", time.Since(start).Milliseconds())
		return protocol.Failure(req.ID, err.Error())
	}
	reqLog.Info("request handled", "durationMs", time.Since(start).Milliseconds())
	return protocol.Success(req.ID, payload)
}

func (d *Dispatcher) route(ctx context.Context, req protocol.Request) (protocol.ReplyPayload, error) {
	switch req.Kind {
	case protocol.KindMessage:
		var in protocol.MessagePayload
		if err := decode(req.Payload, &in); err != nil {
			return protocol.ReplyPayload{}, err
		}
		return d.chat(ctx, in.Message)

	case protocol.KindAudioForTranscription:
		audio, err := decodeAudio(req.Payload)
		if err != nil {
			return protocol.ReplyPayload{}, err
		}
		return d.transcribeAndChat(ctx, audio)

	case protocol.KindAudioForConversion:
		audio, err := decodeAudio(req.Payload)
		if err != nil {
			return protocol.ReplyPayload{}, err
		}
		return d.convertHum(ctx, audio)

	default:
		return protocol.ReplyPayload{}, fmt.Errorf("unknown request kind: %s", req.Kind)
	}
}

func (d *Dispatcher) chat(ctx context.Context, message string) (protocol.ReplyPayload, error) {
	if d.deps.Assistant == nil {
		return protocol.ReplyPayload{}, errors.New("chat assistant is not configured")
	}
	reply, err := d.deps.Assistant.Reply(ctx, message)
	if err != nil {
		return protocol.ReplyPayload{}, err
	}
	if err := ctx.Err(); err != nil {
		return protocol.ReplyPayload{}, err
	}

	out := protocol.ReplyPayload{
		Response:         reply.Text,
		GenerationResult: reply.Generation,
	}
	if reply.Generation != nil && len(reply.Audio) > 0 {
		// A stored track is referenced by path; audio only travels inline when
		// it could not be written.
		name := "music-" + safeName(reply.Generation.TaskID) + "." + extOr(reply.Generation.Format, "wav")
		if path, err := d.saveMedia(name, reply.Audio); err != nil {
			logging.FromContext(ctx).Warn("failed to store generated track", logging.KeyError, err)
			out.Audio = reply.Audio
		} else {
			generation := *reply.Generation
			generation.Path = path
			out.GenerationResult = &generation
		}
	}
	return out, nil
}

func (d *Dispatcher) transcribeAndChat(ctx context.Context, audio ports.EncodedAudio) (protocol.ReplyPayload, error) {
	if d.deps.Transcriber == nil {
		return protocol.ReplyPayload{}, errors.New("speech-to-text is not configured")
	}
	transcript, err := d.deps.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		return protocol.ReplyPayload{}, err
	}
	if d.deps.Normalizer != nil {
		if transcript, err = d.deps.Normalizer.Apply(transcript); err != nil {
			return protocol.ReplyPayload{}, err
		}
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return protocol.ReplyPayload{}, errNoSpeech
	}
	logging.FromContext(ctx).Debug("transcribed recording", "chars", len(transcript))

	out, err := d.chat(ctx, transcript)
	if err != nil {
		return protocol.ReplyPayload{}, err
	}
	out.Transcript = transcript
	return out, nil
}

func (d *Dispatcher) convertHum(ctx context.Context, audio ports.EncodedAudio) (protocol.ReplyPayload, error) {
	if d.deps.Converter == nil {
		return protocol.ReplyPayload{}, errors.New("hum-to-midi is not configured")
	}
	midi, err := d.deps.Converter.Convert(ctx, audio)
	if err != nil {
		return protocol.ReplyPayload{}, err
	}
	path, err := d.saveMedia("hum-"+uuid.NewString()+".mid", midi)
	if err != nil {
		return protocol.ReplyPayload{}, err
	}

	response := "Converted your humming to MIDI and inserted it into the project."
	if d.deps.DAW == nil {
		response = "Converted your humming to MIDI."
	} else if err := d.deps.DAW.InsertMedia(ctx, path, 0); err != nil {
		logging.FromContext(ctx).Warn("failed to insert midi", logging.KeyError, err, "path", path)
		response = "Converted your humming to MIDI but could not insert it: " + err.Error()
	}

	return protocol.ReplyPayload{
		Response: response,
		GenerationResult: &domain.GenerationResult{
			Kind:   "midi",
			Path:   path,
			Format: "mid",
		},
	}, nil
}

func (d *Dispatcher) saveMedia(name string, data []byte) (string, error) {
	dir := d.deps.MediaDir
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create media dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write media file: %w", err)
	}
	return path, nil
}

func decode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func decodeAudio(raw json.RawMessage) (ports.EncodedAudio, error) {
	var in protocol.AudioPayload
	if err := decode(raw, &in); err != nil {
		return ports.EncodedAudio{}, err
	}
	if len(in.Audio) == 0 {
		return ports.EncodedAudio{}, errors.New("audio payload is empty")
	}
	return ports.EncodedAudio{
		Data:       in.Audio,
		Format:     in.Format,
		SampleRate: in.SampleRate,
		Channels:   in.Channels,
	}, nil
}

func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return -1
		}
	}, s)
	if s == "" {
		return uuid.NewString()
	}
	return s
}

func extOr(ext, fallback string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return fallback
	}
	return ext
}
