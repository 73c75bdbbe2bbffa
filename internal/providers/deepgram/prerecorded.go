package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"studiomic/internal/ports"
)

// Config controls Deepgram prerecorded transcription settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	HTTPClient  *http.Client
}

// Provider implements ports.Transcriber for Deepgram.
type Provider struct {
	cfg        Config
	httpClient *http.Client
}

func NewProvider(cfg Config) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Provider{cfg: cfg, httpClient: httpClient}
}

func (p *Provider) Transcribe(ctx context.Context, audio ports.EncodedAudio) (string, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return "", errors.New("DEEPGRAM_API_KEY is not configured")
	}
	if len(audio.Data) == 0 {
		return "", errors.New("no audio to transcribe")
	}

	listenURL, err := buildListenURL(p.cfg)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, listenURL, bytes.NewReader(audio.Data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Token "+p.cfg.APIKey)
	req.Header.Set("Content-Type", contentType(audio.Format))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read deepgram response: %w", err)
	}

	var response deepgramResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("deepgram returned status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("invalid deepgram response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || strings.EqualFold(response.Type, "Error") {
		message := strings.TrimSpace(response.Message)
		if message == "" {
			message = strings.TrimSpace(response.ErrMsg)
		}
		if message == "" {
			message = fmt.Sprintf("deepgram returned status %d", resp.StatusCode)
		}
		return "", errors.New(message)
	}

	return extractTranscript(response), nil
}

type deepgramResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	ErrMsg  string `json:"err_msg"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(response.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(response.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

func contentType(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "wav":
		return "audio/wav"
	default:
		return "audio/" + strings.ToLower(format)
	}
}

func buildListenURL(cfg Config) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if base == "" {
		base = "https://api.deepgram.com/v1"
	}

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}
	if listenURL.Scheme != "http" && listenURL.Scheme != "https" {
		return "", fmt.Errorf("invalid Deepgram API base URL scheme %q", listenURL.Scheme)
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("smart_format", fmt.Sprintf("%t", cfg.SmartFormat))
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
