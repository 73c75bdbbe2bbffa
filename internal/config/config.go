package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the desktop app and the backend daemon.
type Config struct {
	Audio     AudioConfig
	Session   SessionConfig
	Transport TransportConfig
	Backend   BackendConfig
	OpenAI    OpenAIConfig
	STT       STTConfig
	Deepgram  DeepgramConfig
	Beatoven  BeatovenConfig
	Hum       HumConfig
	DAW       DAWConfig
	Vocab     VocabConfig
	Log       LogConfig
}

type AudioConfig struct {
	RecorderCommand  string `env:"STUDIOMIC_FFMPEG_COMMAND" env-default:"ffmpeg"`
	InputFormat      string `env:"STUDIOMIC_AUDIO_INPUT_FORMAT" env-default:"pulse"`
	InputDevice      string `env:"STUDIOMIC_AUDIO_INPUT_DEVICE" env-default:"default"`
	SampleRate       int    `env:"STUDIOMIC_SAMPLE_RATE" env-default:"16000"`
	Channels         int    `env:"STUDIOMIC_CHANNELS" env-default:"1"`
	NoiseSuppression bool   `env:"STUDIOMIC_NOISE_SUPPRESSION" env-default:"true"`
}

// ErrorPolicy decides how transport failures reach the user.
type ErrorPolicy string

const (
	ErrorPolicyLog    ErrorPolicy = "log"
	ErrorPolicyInline ErrorPolicy = "inline"
)

type SessionConfig struct {
	ChunkSize   int         `env:"STUDIOMIC_AUDIO_CHUNK_SIZE" env-default:"4096"`
	ErrorPolicy ErrorPolicy `env:"STUDIOMIC_ERROR_POLICY" env-default:"log"`
}

type TransportConfig struct {
	BackendURL        string        `env:"STUDIOMIC_BACKEND_URL" env-default:"ws://127.0.0.1:8765/ws"`
	RequestTimeout    time.Duration `env:"STUDIOMIC_REQUEST_TIMEOUT" env-default:"10s"`
	ReconnectInterval time.Duration `env:"STUDIOMIC_RECONNECT_INTERVAL" env-default:"2s"`
	DialTimeout       time.Duration `env:"STUDIOMIC_DIAL_TIMEOUT" env-default:"5s"`
	// AssistantTimeout bounds requests that reach the assistant, whose tools
	// may wait on music generation.
	AssistantTimeout time.Duration `env:"STUDIOMIC_ASSISTANT_TIMEOUT" env-default:"6m"`
}

type BackendConfig struct {
	Addr           string   `env:"STUDIOD_ADDR" env-default:"127.0.0.1:8765"`
	Workers        int      `env:"STUDIOD_WORKERS" env-default:"4"`
	QueueSize      int      `env:"STUDIOD_QUEUE_SIZE" env-default:"32"`
	MediaDir       string   `env:"STUDIOD_MEDIA_DIR"`
	AllowedOrigins []string `env:"STUDIOD_ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost:5173,wails://wails"`
}

type OpenAIConfig struct {
	APIKey        string `env:"OPENAI_API_KEY"`
	BaseURL       string `env:"OPENAI_API_BASE"`
	ChatModel     string `env:"OPENAI_MODEL" env-default:"gpt-4o-mini"`
	WhisperModel  string `env:"OPENAI_WHISPER_MODEL" env-default:"whisper-1"`
	MaxToolRounds int    `env:"STUDIOD_MAX_TOOL_ROUNDS" env-default:"10"`
	SystemPrompt  string `env:"STUDIOD_SYSTEM_PROMPT"`
}

type STTConfig struct {
	Provider string `env:"STUDIOD_STT_PROVIDER" env-default:"whisper"`
}

type DeepgramConfig struct {
	APIKey     string `env:"DEEPGRAM_API_KEY"`
	APIBaseURL string `env:"DEEPGRAM_API_BASE" env-default:"https://api.deepgram.com/v1"`
	Model      string `env:"DEEPGRAM_MODEL" env-default:"nova-2"`
	Language   string `env:"DEEPGRAM_LANGUAGE"`
}

type BeatovenConfig struct {
	APIKey       string        `env:"BEATOVEN_AI_API_KEY"`
	APIBaseURL   string        `env:"BEATOVEN_API_BASE" env-default:"https://public-api.beatoven.ai/api/v1"`
	PollInterval time.Duration `env:"BEATOVEN_POLL_INTERVAL" env-default:"5s"`
	MaxPolls     int           `env:"BEATOVEN_MAX_POLLS" env-default:"60"`
}

type HumConfig struct {
	URL string `env:"HUM_TO_MIDI_URL"`
}

type DAWConfig struct {
	BridgeAddr  string        `env:"DAW_BRIDGE_ADDR" env-default:"127.0.0.1:2307"`
	DialTimeout time.Duration `env:"DAW_DIAL_TIMEOUT" env-default:"2s"`
}

type VocabConfig struct {
	Path string `env:"STUDIOMIC_VOCAB_FILE"`
}

type LogConfig struct {
	Level  string `env:"STUDIOMIC_LOG_LEVEL" env-default:"info"`
	Format string `env:"STUDIOMIC_LOG_FORMAT" env-default:"text"`
}

// Load reads envFile (when present) into the process environment and resolves
// configuration from the environment. An empty envFile means ".env".
func Load(envFile string) (Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read env file %q: %w", envFile, err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	if strings.TrimSpace(cfg.Backend.MediaDir) == "" {
		cfg.Backend.MediaDir = filepath.Join(home, ".local", "share", "studiomic", "media")
	}
	if strings.TrimSpace(cfg.Vocab.Path) == "" {
		cfg.Vocab.Path = filepath.Join(home, ".config", "studiomic", "vocabulary.rules")
	}

	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}
	if cfg.Session.ErrorPolicy != ErrorPolicyInline {
		cfg.Session.ErrorPolicy = ErrorPolicyLog
	}
	if cfg.Transport.RequestTimeout <= 0 {
		cfg.Transport.RequestTimeout = 10 * time.Second
	}
	if cfg.Transport.AssistantTimeout < cfg.Transport.RequestTimeout {
		cfg.Transport.AssistantTimeout = cfg.Transport.RequestTimeout
	}
	if cfg.Transport.ReconnectInterval <= 0 {
		cfg.Transport.ReconnectInterval = 2 * time.Second
	}
	if cfg.Transport.DialTimeout <= 0 {
		cfg.Transport.DialTimeout = 5 * time.Second
	}
	if cfg.Backend.Workers < 1 {
		cfg.Backend.Workers = 4
	}
	if cfg.Backend.QueueSize < 1 {
		cfg.Backend.QueueSize = 32
	}
	if cfg.OpenAI.MaxToolRounds <= 0 {
		cfg.OpenAI.MaxToolRounds = 10
	}
	cfg.STT.Provider = strings.ToLower(strings.TrimSpace(cfg.STT.Provider))
	if cfg.STT.Provider != "deepgram" {
		cfg.STT.Provider = "whisper"
	}
	if cfg.Beatoven.PollInterval <= 0 {
		cfg.Beatoven.PollInterval = 5 * time.Second
	}
	if cfg.Beatoven.MaxPolls <= 0 {
		cfg.Beatoven.MaxPolls = 60
	}
	if cfg.DAW.DialTimeout <= 0 {
		cfg.DAW.DialTimeout = 2 * time.Second
	}
}
