package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"studiomic/internal/domain"
)

const (
	toolAddTrack      = "add_track"
	toolDeleteTrack   = "delete_track"
	toolAddFX         = "add_fx_to_track"
	toolInsertMedia   = "insert_media"
	toolGenerateMusic = "generate_music"
)

const defaultMusicSeconds = 30

func toolCatalog() []Tool {
	str := func(desc string) jsonschema.Definition {
		return jsonschema.Definition{Type: jsonschema.String, Description: desc}
	}
	return []Tool{
		{
			Name:        toolAddTrack,
			Description: "Add a new track to the REAPER project",
			Parameters: jsonschema.Definition{
				Type:       jsonschema.Object,
				Properties: map[string]jsonschema.Definition{"track_name": str("Name for the new track")},
				Required:   []string{"track_name"},
			},
		},
		{
			Name:        toolDeleteTrack,
			Description: "Delete a track from the REAPER project",
			Parameters: jsonschema.Definition{
				Type:       jsonschema.Object,
				Properties: map[string]jsonschema.Definition{"track": str("Track name or 1-based index")},
				Required:   []string{"track"},
			},
		},
		{
			Name:        toolAddFX,
			Description: "Add an FX plugin to a track",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"track":   str("Track name or 1-based index"),
					"fx_name": str("FX plugin name, e.g. ReaEQ, ReaComp, ReaVerbate"),
				},
				Required: []string{"track", "fx_name"},
			},
		},
		{
			Name:        toolInsertMedia,
			Description: "Insert a media file into the project at a position in seconds",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"path":     str("Absolute path of the media file"),
					"position": {Type: jsonschema.Number, Description: "Position in seconds"},
				},
				Required: []string{"path"},
			},
		},
		{
			Name:        toolGenerateMusic,
			Description: "Generate a new piece of music from a text prompt",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"prompt":           str("Style, mood and instrumentation of the track"),
					"duration_seconds": {Type: jsonschema.Integer, Description: "Track length in seconds"},
				},
				Required: []string{"prompt"},
			},
		},
	}
}

type trackArgs struct {
	TrackName string `json:"track_name"`
	Track     string `json:"track"`
	FXName    string `json:"fx_name"`
}

type mediaArgs struct {
	Path     string  `json:"path"`
	Position float64 `json:"position"`
}

type musicArgs struct {
	Prompt          string `json:"prompt"`
	DurationSeconds int    `json:"duration_seconds"`
}

// toolOutcome is what one tool call produced. Text goes back to the model;
// Audio and Generation end up in the reply.
type toolOutcome struct {
	Text       string
	Audio      []byte
	Generation *domain.GenerationResult
}

func (a *Assistant) runTool(ctx context.Context, call ToolCall) (toolOutcome, error) {
	switch call.Name {
	case toolAddTrack:
		var args trackArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return toolOutcome{}, err
		}
		if err := a.daw.AddTrack(ctx, args.TrackName); err != nil {
			return toolOutcome{}, err
		}
		return toolOutcome{Text: fmt.Sprintf("Added track %q", args.TrackName)}, nil

	case toolDeleteTrack:
		var args trackArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return toolOutcome{}, err
		}
		if err := a.daw.DeleteTrack(ctx, args.Track); err != nil {
			return toolOutcome{}, err
		}
		return toolOutcome{Text: fmt.Sprintf("Deleted track %q", args.Track)}, nil

	case toolAddFX:
		var args trackArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return toolOutcome{}, err
		}
		if err := a.daw.AddFX(ctx, args.Track, args.FXName); err != nil {
			return toolOutcome{}, err
		}
		return toolOutcome{Text: fmt.Sprintf("Added %s to track %q", args.FXName, args.Track)}, nil

	case toolInsertMedia:
		var args mediaArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return toolOutcome{}, err
		}
		if err := a.daw.InsertMedia(ctx, args.Path, args.Position); err != nil {
			return toolOutcome{}, err
		}
		return toolOutcome{Text: fmt.Sprintf("Inserted %s at %.2fs", args.Path, args.Position)}, nil

	case toolGenerateMusic:
		if a.music == nil {
			return toolOutcome{}, errMusicDisabled
		}
		var args musicArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return toolOutcome{}, err
		}
		if strings.TrimSpace(args.Prompt) == "" {
			return toolOutcome{}, fmt.Errorf("prompt is required")
		}
		if args.DurationSeconds <= 0 {
			args.DurationSeconds = defaultMusicSeconds
		}
		track, err := a.music.Generate(ctx, args.Prompt, args.DurationSeconds)
		if err != nil {
			return toolOutcome{}, err
		}
		return toolOutcome{
			Text:  fmt.Sprintf("Generated a %d second track (task %s)", args.DurationSeconds, track.TaskID),
			Audio: track.Audio,
			Generation: &domain.GenerationResult{
				Kind:     "music",
				TaskID:   track.TaskID,
				Prompt:   args.Prompt,
				TrackURL: track.TrackURL,
				Format:   track.Format,
			},
		}, nil

	default:
		return toolOutcome{}, fmt.Errorf("unknown tool: %s", call.Name)
	}
}

func decodeArgs(raw string, out any) error {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}
