// Package beatoven generates music through the Beatoven.ai public API:
// compose a track, poll the task until it settles, then download the audio.
package beatoven

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"studiomic/internal/logging"
	"studiomic/internal/ports"
)

var log = logging.L("beatoven")

var (
	ErrMissingAPIKey    = errors.New("beatoven api key is not configured")
	ErrPollExhausted    = errors.New("generation task did not finish within the poll limit")
	ErrGenerationFailed = errors.New("generation task failed")
)

const (
	defaultBaseURL = "https://public-api.beatoven.ai/api/v1"
	defaultFormat  = "wav"
	maxTrackBytes  = 64 << 20
)

type Config struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	MaxPolls     int
	HTTPClient   *http.Client
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 60
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

type composeRequest struct {
	Prompt  composePrompt `json:"prompt"`
	Format  string        `json:"format"`
	Looping bool          `json:"looping"`
}

type composePrompt struct {
	Text string `json:"text"`
}

type composeResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id"`
}

type taskResponse struct {
	Status string `json:"status"`
	Meta   struct {
		TrackURL string `json:"track_url"`
	} `json:"meta"`
}

// Generate composes a track for prompt and returns it once downloaded.
func (c *Client) Generate(ctx context.Context, prompt string, durationSeconds int) (ports.GeneratedTrack, error) {
	taskID, err := c.Compose(ctx, prompt, durationSeconds)
	if err != nil {
		return ports.GeneratedTrack{}, err
	}
	status, err := c.Wait(ctx, taskID)
	if err != nil {
		return ports.GeneratedTrack{}, err
	}
	audio, err := c.Download(ctx, status.TrackURL)
	if err != nil {
		return ports.GeneratedTrack{}, err
	}
	return ports.GeneratedTrack{
		TaskID:   taskID,
		TrackURL: status.TrackURL,
		Format:   defaultFormat,
		Audio:    audio,
	}, nil
}

// Compose starts a generation task and returns its id.
func (c *Client) Compose(ctx context.Context, prompt string, durationSeconds int) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", ErrMissingAPIKey
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("generation prompt is empty")
	}
	if durationSeconds > 0 {
		prompt = strconv.Itoa(durationSeconds) + " seconds " + prompt
	}

	body, err := json.Marshal(composeRequest{
		Prompt: composePrompt{Text: prompt},
		Format: defaultFormat,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/tracks/compose", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out composeResponse
	if err := c.doJSON(req, &out); err != nil {
		return "", fmt.Errorf("compose request failed: %w", err)
	}
	if out.TaskID == "" {
		return "", fmt.Errorf("compose response missing task id (status %q)", out.Status)
	}
	log.Info("composition started", "taskId", out.TaskID, "status", out.Status)
	return out.TaskID, nil
}

// Status fetches the current state of a task.
func (c *Client) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/tasks/"+taskID, nil)
	if err != nil {
		return TaskStatus{}, err
	}
	var out taskResponse
	if err := c.doJSON(req, &out); err != nil {
		return TaskStatus{}, fmt.Errorf("status request failed: %w", err)
	}
	return TaskStatus{
		TaskID:   taskID,
		State:    mapStatus(out.Status),
		Raw:      out.Status,
		TrackURL: out.Meta.TrackURL,
	}, nil
}

// Wait polls the task at a fixed interval until it is done or failed, the
// attempt bound is reached, or ctx ends.
func (c *Client) Wait(ctx context.Context, taskID string) (TaskStatus, error) {
	taskLog := log.With("taskId", taskID)
	for attempt := 1; attempt <= c.cfg.MaxPolls; attempt++ {
		timer := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return TaskStatus{}, ctx.Err()
		case <-timer.C:
		}

		status, err := c.Status(ctx, taskID)
		if err != nil {
			return TaskStatus{}, err
		}
		taskLog.Debug("task polled", "attempt", attempt, "state", status.State, "raw", status.Raw)

		switch status.State {
		case TaskDone:
			if status.TrackURL == "" {
				return status, fmt.Errorf("%w: finished without a track url", ErrGenerationFailed)
			}
			return status, nil
		case TaskFailed:
			return status, fmt.Errorf("%w: provider status %q", ErrGenerationFailed, status.Raw)
		}
	}
	return TaskStatus{}, fmt.Errorf("%w after %d attempts", ErrPollExhausted, c.cfg.MaxPolls)
}

// Download fetches the finished track.
func (c *Client) Download(ctx context.Context, trackURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trackURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("track download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("track download failed: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxTrackBytes))
}

func (c *Client) doJSON(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
