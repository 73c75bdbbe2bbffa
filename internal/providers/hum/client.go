// Package hum converts hummed recordings to MIDI through an HTTP service that
// accepts a multipart upload and answers with the MIDI file.
package hum

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"studiomic/internal/logging"
	"studiomic/internal/ports"
)

var log = logging.L("hum")

var ErrNotConfigured = errors.New("hum-to-midi service url is not configured")

const maxMIDIBytes = 8 << 20

type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{url: strings.TrimSpace(url), httpClient: httpClient}
}

// Convert uploads audio as the "file" form field and returns the MIDI bytes.
func (c *Client) Convert(ctx context.Context, audio ports.EncodedAudio) ([]byte, error) {
	if c.url == "" {
		return nil, ErrNotConfigured
	}
	if len(audio.Data) == 0 {
		return nil, errors.New("no audio to convert")
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "recording."+fileExt(audio.Format))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio.Data); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hum-to-midi request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("hum-to-midi failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	midi, err := io.ReadAll(io.LimitReader(resp.Body, maxMIDIBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read midi response: %w", err)
	}
	if len(midi) == 0 {
		return nil, errors.New("hum-to-midi returned an empty file")
	}
	log.Debug("converted recording", "audioBytes", len(audio.Data), "midiBytes", len(midi))
	return midi, nil
}

func fileExt(format string) string {
	format = strings.TrimSpace(strings.ToLower(format))
	if format == "" {
		return "wav"
	}
	return format
}
