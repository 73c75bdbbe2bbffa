// Package assistant answers chat messages with an LLM that can drive the DAW
// and generate music through tool calls.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"studiomic/internal/logging"
	"studiomic/internal/ports"
)

var log = logging.L("assistant")

var (
	// ErrEmptyMessage rejects blank chat input before the model is called.
	ErrEmptyMessage  = errors.New("message is empty")
	errMusicDisabled = errors.New("music generation is not configured")
)

const DefaultSystemPrompt = "You are a music production assistant connected to a REAPER session. " +
	"Use the available tools to change the project when the user asks for it, " +
	"then answer briefly with what you did."

type Config struct {
	SystemPrompt  string
	MaxToolRounds int
}

// Assistant runs a bounded tool-call loop per message. It keeps no history
// between messages, so one instance may serve concurrent requests.
type Assistant struct {
	model ChatModel
	daw   ports.DAW
	music ports.MusicGenerator
	cfg   Config
	tools []Tool
}

// New builds an Assistant. music may be nil, in which case generate_music
// reports that generation is unavailable.
func New(model ChatModel, daw ports.DAW, music ports.MusicGenerator, cfg Config) *Assistant {
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 10
	}
	return &Assistant{model: model, daw: daw, music: music, cfg: cfg, tools: toolCatalog()}
}

func (a *Assistant) Reply(ctx context.Context, message string) (ports.AssistantReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return ports.AssistantReply{}, ErrEmptyMessage
	}
	reqLog := logging.FromContext(ctx)

	turns := []Turn{
		{Role: RoleSystem, Content: a.cfg.SystemPrompt},
		{Role: RoleUser, Content: message},
	}
	var reply ports.AssistantReply
	var actions []string

	for round := 1; round <= a.cfg.MaxToolRounds; round++ {
		completion, err := a.model.Complete(ctx, turns, a.tools)
		if err != nil {
			return ports.AssistantReply{}, fmt.Errorf("chat completion failed: %w", err)
		}
		if len(completion.ToolCalls) == 0 {
			reply.Text = strings.TrimSpace(completion.Content)
			if reply.Text == "" {
				reply.Text = strings.Join(actions, "\n")
			}
			return reply, nil
		}

		turns = append(turns, Turn{Role: RoleAssistant, Content: completion.Content, ToolCalls: completion.ToolCalls})
		for _, call := range completion.ToolCalls {
			if err := ctx.Err(); err != nil {
				reqLog.Info("request abandoned, skipping remaining tool calls", "tool", call.Name, "round", round)
				return ports.AssistantReply{}, err
			}
			outcome, err := a.runTool(ctx, call)
			result := outcome.Text
			if err != nil {
				if ctx.Err() != nil {
					return ports.AssistantReply{}, ctx.Err()
				}
				reqLog.Warn("tool call failed", "tool", call.Name, "round", round, logging.KeyError, err)
				result = "Error: " + err.Error()
			} else {
				reqLog.Info("tool call executed", "tool", call.Name, "round", round)
			}
			actions = append(actions, fmt.Sprintf("%s: %s", call.Name, result))
			if outcome.Generation != nil {
				reply.Generation = outcome.Generation
				reply.Audio = outcome.Audio
			}
			turns = append(turns, Turn{Role: RoleTool, Content: result, ToolCallID: call.ID})
		}
	}

	log.Warn("tool rounds exhausted", "maxRounds", a.cfg.MaxToolRounds)
	actions = append(actions, fmt.Sprintf("Reached maximum rounds (%d). Stopping here.", a.cfg.MaxToolRounds))
	reply.Text = strings.Join(actions, "\n")
	return reply, nil
}
