package bootstrap

import (
	"errors"
	"time"

	"studiomic/internal/assistant"
	"studiomic/internal/audio"
	"studiomic/internal/backend"
	"studiomic/internal/config"
	"studiomic/internal/conversation"
	"studiomic/internal/daw"
	"studiomic/internal/logging"
	"studiomic/internal/ports"
	"studiomic/internal/protocol"
	"studiomic/internal/providers/beatoven"
	"studiomic/internal/providers/deepgram"
	"studiomic/internal/providers/hum"
	"studiomic/internal/providers/openai"
	"studiomic/internal/transcode"
	"studiomic/internal/transport"
	"studiomic/internal/usecase"
	"studiomic/internal/vocab"
)

var log = logging.L("bootstrap")

// kindTimeouts gives requests that reach the assistant the longer bound.
// Hum conversion keeps the default request timeout.
func kindTimeouts(cfg config.TransportConfig) map[protocol.Kind]time.Duration {
	return map[protocol.Kind]time.Duration{
		protocol.KindMessage:               cfg.AssistantTimeout,
		protocol.KindAudioForTranscription: cfg.AssistantTimeout,
	}
}

// EventSink is the desktop UI sink. It also hears transport status changes.
type EventSink interface {
	ports.EventSink
	TransportStatusChanged(connected bool)
}

// Services is the assembled desktop runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Transport  *transport.Client
	Config     config.Config
}

// Build wires the desktop dependencies. The transport client is returned
// unstarted; the caller owns its lifecycle.
func Build(envFile string, eventSink EventSink) (Services, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return Services{}, err
	}
	logging.Init(cfg.Log.Format, cfg.Log.Level, nil)

	client := transport.New(transport.Config{
		URL:               cfg.Transport.BackendURL,
		RequestTimeout:    cfg.Transport.RequestTimeout,
		KindTimeouts:      kindTimeouts(cfg.Transport),
		ReconnectInterval: cfg.Transport.ReconnectInterval,
		DialTimeout:       cfg.Transport.DialTimeout,
	}, eventSink.TransportStatusChanged)

	// The capture unit reports stream failures to the controller built below.
	var controller *usecase.SessionController
	capture := audio.NewCaptureUnit(
		audio.NewFFMPEGDevice(cfg.Audio.RecorderCommand),
		ports.AudioConfig{
			SampleRate:       cfg.Audio.SampleRate,
			Channels:         cfg.Audio.Channels,
			InputFormat:      cfg.Audio.InputFormat,
			InputDevice:      cfg.Audio.InputDevice,
			NoiseSuppression: cfg.Audio.NoiseSuppression,
		},
		cfg.Session.ChunkSize,
		func(err error) {
			if controller != nil {
				controller.HandleCaptureError(err)
			}
		},
	)

	controller = usecase.NewSessionController(
		capture,
		transcode.NewWAVEncoder(cfg.Audio.SampleRate, cfg.Audio.Channels),
		client,
		conversation.NewLog(),
		eventSink,
		usecase.Config{ErrorPolicy: usecase.ErrorPolicy(cfg.Session.ErrorPolicy)},
	)

	return Services{Controller: controller, Transport: client, Config: cfg}, nil
}

// BuildBackend wires the backend daemon. Collaborators whose credentials are
// missing are left out; requests that need them fail with a clear error.
func BuildBackend(cfg config.Config) (*backend.Server, error) {
	normalizer, err := vocab.NewNormalizer(cfg.Vocab.Path, 0)
	if err != nil {
		return nil, err
	}

	bridge := daw.NewBridge(cfg.DAW.BridgeAddr, cfg.DAW.DialTimeout)

	openaiCfg := openai.Config{
		APIKey:       cfg.OpenAI.APIKey,
		BaseURL:      cfg.OpenAI.BaseURL,
		ChatModel:    cfg.OpenAI.ChatModel,
		WhisperModel: cfg.OpenAI.WhisperModel,
	}

	var music ports.MusicGenerator
	if cfg.Beatoven.APIKey != "" {
		music = beatoven.NewClient(beatoven.Config{
			APIKey:       cfg.Beatoven.APIKey,
			BaseURL:      cfg.Beatoven.APIBaseURL,
			PollInterval: cfg.Beatoven.PollInterval,
			MaxPolls:     cfg.Beatoven.MaxPolls,
		})
	} else {
		log.Warn("music generation disabled", "reason", "BEATOVEN_AI_API_KEY is not set")
	}

	var chat ports.Assistant
	if model, err := openai.NewChatModel(openaiCfg); err == nil {
		chat = assistant.New(model, bridge, music, assistant.Config{
			SystemPrompt:  cfg.OpenAI.SystemPrompt,
			MaxToolRounds: cfg.OpenAI.MaxToolRounds,
		})
	} else if errors.Is(err, openai.ErrMissingAPIKey) {
		log.Warn("chat assistant disabled", "reason", err.Error())
	} else {
		return nil, err
	}

	stt, err := buildTranscriber(cfg, openaiCfg)
	if err != nil {
		return nil, err
	}

	var converter ports.MIDIConverter
	if cfg.Hum.URL != "" {
		converter = hum.NewClient(cfg.Hum.URL, nil)
	} else {
		log.Warn("hum-to-midi disabled", "reason", "HUM_TO_MIDI_URL is not set")
	}

	dispatcher := backend.NewDispatcher(backend.Deps{
		Assistant:   chat,
		Transcriber: stt,
		Normalizer:  normalizer,
		Converter:   converter,
		DAW:         bridge,
		MediaDir:    cfg.Backend.MediaDir,
	})

	return backend.NewServer(backend.Config{
		Addr:           cfg.Backend.Addr,
		AllowedOrigins: cfg.Backend.AllowedOrigins,
		Workers:        cfg.Backend.Workers,
		QueueSize:      cfg.Backend.QueueSize,
	}, dispatcher), nil
}

func buildTranscriber(cfg config.Config, openaiCfg openai.Config) (ports.Transcriber, error) {
	if cfg.STT.Provider == "deepgram" {
		if cfg.Deepgram.APIKey == "" {
			log.Warn("speech-to-text disabled", "reason", "DEEPGRAM_API_KEY is not set")
			return nil, nil
		}
		return deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: true,
		}), nil
	}

	whisper, err := openai.NewWhisper(openaiCfg)
	if errors.Is(err, openai.ErrMissingAPIKey) {
		log.Warn("speech-to-text disabled", "reason", err.Error())
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return whisper, nil
}
