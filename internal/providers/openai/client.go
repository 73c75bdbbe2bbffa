// Package openai adapts github.com/sashabaranov/go-openai to the assistant's
// chat model and to speech-to-text.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"studiomic/internal/assistant"
	"studiomic/internal/ports"
)

var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not configured")

type Config struct {
	APIKey       string
	BaseURL      string
	ChatModel    string
	WhisperModel string
}

func newClient(cfg Config) (*goopenai.Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = strings.TrimRight(base, "/")
	}
	return goopenai.NewClientWithConfig(clientCfg), nil
}

// ChatModel implements assistant.ChatModel over chat completions with tools.
type ChatModel struct {
	client *goopenai.Client
	model  string
}

func NewChatModel(cfg Config) (*ChatModel, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.ChatModel
	if model == "" {
		model = goopenai.GPT4oMini
	}
	return &ChatModel{client: client, model: model}, nil
}

func (m *ChatModel) Complete(ctx context.Context, turns []assistant.Turn, tools []assistant.Tool) (assistant.Completion, error) {
	req := goopenai.ChatCompletionRequest{
		Model:    m.model,
		Messages: toMessages(turns),
		Tools:    toTools(tools),
	}
	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return assistant.Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return assistant.Completion{}, errors.New("chat completion returned no choices")
	}

	msg := resp.Choices[0].Message
	out := assistant.Completion{Content: msg.Content}
	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, assistant.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return out, nil
}

func toMessages(turns []assistant.Turn) []goopenai.ChatCompletionMessage {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		msg := goopenai.ChatCompletionMessage{
			Role:       string(turn.Role),
			Content:    turn.Content,
			ToolCallID: turn.ToolCallID,
		}
		for _, call := range turn.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, goopenai.ToolCall{
				ID:   call.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		messages = append(messages, msg)
	}
	return messages
}

func toTools(tools []assistant.Tool) []goopenai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]goopenai.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return out
}

// Whisper implements ports.Transcriber with the audio transcription endpoint.
type Whisper struct {
	client *goopenai.Client
	model  string
}

func NewWhisper(cfg Config) (*Whisper, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.WhisperModel
	if model == "" {
		model = goopenai.Whisper1
	}
	return &Whisper{client: client, model: model}, nil
}

func (w *Whisper) Transcribe(ctx context.Context, audio ports.EncodedAudio) (string, error) {
	if len(audio.Data) == 0 {
		return "", errors.New("no audio to transcribe")
	}
	format := audio.Format
	if format == "" {
		format = "wav"
	}
	resp, err := w.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    w.model,
		FilePath: "recording." + format,
		Reader:   bytes.NewReader(audio.Data),
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
