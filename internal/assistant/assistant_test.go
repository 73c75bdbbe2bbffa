package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"studiomic/internal/ports"
)

type scriptedModel struct {
	mu      sync.Mutex
	script  []Completion
	err     error
	calls   int
	history [][]Turn
}

func (m *scriptedModel) Complete(_ context.Context, turns []Turn, tools []Tool) (Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, append([]Turn(nil), turns...))
	if m.err != nil {
		return Completion{}, m.err
	}
	idx := m.calls
	m.calls++
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	return m.script[idx], nil
}

type fakeDAW struct {
	mu       sync.Mutex
	commands []string
	err      error
}

func (d *fakeDAW) record(cmd string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.commands = append(d.commands, cmd)
	return nil
}

func (d *fakeDAW) AddTrack(_ context.Context, name string) error { return d.record("add:" + name) }
func (d *fakeDAW) DeleteTrack(_ context.Context, track string) error {
	return d.record("delete:" + track)
}
func (d *fakeDAW) AddFX(_ context.Context, track, fx string) error {
	return d.record("fx:" + track + ":" + fx)
}
func (d *fakeDAW) InsertMedia(_ context.Context, path string, _ float64) error {
	return d.record("media:" + path)
}

type fakeMusic struct {
	prompt   string
	duration int
}

func (m *fakeMusic) Generate(_ context.Context, prompt string, durationSeconds int) (ports.GeneratedTrack, error) {
	m.prompt = prompt
	m.duration = durationSeconds
	return ports.GeneratedTrack{TaskID: "t-1", TrackURL: "https://cdn/track.wav", Format: "wav", Audio: []byte("RIFF")}, nil
}

func TestReplyWithoutToolsReturnsModelText(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{script: []Completion{{Content: " Sure! "}}}
	a := New(model, &fakeDAW{}, nil, Config{})

	reply, err := a.Reply(context.Background(), "hello")
	if err != nil {
		t.Fatalf("reply failed: %v", err)
	}
	if reply.Text != "Sure!" {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
	if len(model.history[0]) != 2 || model.history[0][0].Role != RoleSystem || model.history[0][1].Content != "hello" {
		t.Fatalf("unexpected first round turns: %+v", model.history[0])
	}
}

func TestReplyExecutesToolCallsAndFeedsResultsBack(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{script: []Completion{
		{ToolCalls: []ToolCall{
			{ID: "c1", Name: toolAddTrack, Arguments: `{"track_name":"Drums"}`},
			{ID: "c2", Name: toolAddFX, Arguments: `{"track":"Drums","fx_name":"ReaComp"}`},
		}},
		{Content: "Added a drum track with a compressor."},
	}}
	daw := &fakeDAW{}
	a := New(model, daw, nil, Config{})

	reply, err := a.Reply(context.Background(), "add a drum track with compression")
	if err != nil {
		t.Fatalf("reply failed: %v", err)
	}
	if reply.Text != "Added a drum track with a compressor." {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
	if strings.Join(daw.commands, ",") != "add:Drums,fx:Drums:ReaComp" {
		t.Fatalf("unexpected daw commands: %v", daw.commands)
	}

	second := model.history[1]
	if len(second) != 5 {
		t.Fatalf("expected 5 turns in second round, got %d", len(second))
	}
	if second[2].Role != RoleAssistant || len(second[2].ToolCalls) != 2 {
		t.Fatalf("expected assistant tool-call turn, got %+v", second[2])
	}
	if second[3].Role != RoleTool || second[3].ToolCallID != "c1" || second[4].ToolCallID != "c2" {
		t.Fatalf("unexpected tool result turns: %+v", second[3:])
	}
}

func TestReplyFeedsToolErrorsToModel(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{script: []Completion{
		{ToolCalls: []ToolCall{{ID: "c1", Name: toolDeleteTrack, Arguments: `{"track":"Bass"}`}}},
		{Content: "I could not reach REAPER."},
	}}
	a := New(model, &fakeDAW{err: errors.New("bridge offline")}, nil, Config{})

	reply, err := a.Reply(context.Background(), "delete the bass")
	if err != nil {
		t.Fatalf("reply failed: %v", err)
	}
	if reply.Text != "I could not reach REAPER." {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
	if got := model.history[1][3].Content; got != "Error: bridge offline" {
		t.Fatalf("unexpected tool result: %q", got)
	}
}

func TestReplyGenerateMusicAttachesResult(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{script: []Completion{
		{ToolCalls: []ToolCall{{ID: "g1", Name: toolGenerateMusic, Arguments: `{"prompt":"chill lofi"}`}}},
		{Content: "Here is your track."},
	}}
	music := &fakeMusic{}
	a := New(model, &fakeDAW{}, music, Config{})

	reply, err := a.Reply(context.Background(), "make me a lofi beat")
	if err != nil {
		t.Fatalf("reply failed: %v", err)
	}
	if music.prompt != "chill lofi" || music.duration != defaultMusicSeconds {
		t.Fatalf("unexpected generation request: %q %d", music.prompt, music.duration)
	}
	if reply.Generation == nil || reply.Generation.Kind != "music" || reply.Generation.TaskID != "t-1" {
		t.Fatalf("unexpected generation result: %+v", reply.Generation)
	}
	if string(reply.Audio) != "RIFF" {
		t.Fatalf("unexpected audio: %q", reply.Audio)
	}
}

func TestReplyGenerateMusicWithoutGenerator(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{script: []Completion{
		{ToolCalls: []ToolCall{{ID: "g1", Name: toolGenerateMusic, Arguments: `{"prompt":"x"}`}}},
		{Content: "Generation is unavailable."},
	}}
	a := New(model, &fakeDAW{}, nil, Config{})

	reply, err := a.Reply(context.Background(), "make music")
	if err != nil {
		t.Fatalf("reply failed: %v", err)
	}
	if reply.Generation != nil {
		t.Fatalf("expected no generation result")
	}
	if got := model.history[1][3].Content; got != "Error: "+errMusicDisabled.Error() {
		t.Fatalf("unexpected tool result: %q", got)
	}
}

func TestReplyStopsAtMaxToolRounds(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{script: []Completion{
		{ToolCalls: []ToolCall{{ID: "c", Name: toolAddTrack, Arguments: `{"track_name":"Loop"}`}}},
	}}
	daw := &fakeDAW{}
	a := New(model, daw, nil, Config{MaxToolRounds: 3})

	reply, err := a.Reply(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("reply failed: %v", err)
	}
	if model.calls != 3 || len(daw.commands) != 3 {
		t.Fatalf("expected 3 rounds, got calls=%d commands=%d", model.calls, len(daw.commands))
	}
	if !strings.Contains(reply.Text, "Reached maximum rounds (3)") {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
}

func TestReplyUnknownToolAndBadArguments(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{script: []Completion{
		{ToolCalls: []ToolCall{
			{ID: "u", Name: "launch_rocket"},
			{ID: "b", Name: toolAddTrack, Arguments: `{not json`},
		}},
		{Content: "done"},
	}}
	a := New(model, &fakeDAW{}, nil, Config{})

	if _, err := a.Reply(context.Background(), "go"); err != nil {
		t.Fatalf("reply failed: %v", err)
	}
	results := model.history[1][3:]
	if results[0].Content != "Error: unknown tool: launch_rocket" {
		t.Fatalf("unexpected unknown-tool result: %q", results[0].Content)
	}
	if !strings.HasPrefix(results[1].Content, "Error: invalid tool arguments") {
		t.Fatalf("unexpected bad-args result: %q", results[1].Content)
	}
}

func TestReplyModelFailure(t *testing.T) {
	t.Parallel()

	a := New(&scriptedModel{err: errors.New("rate limited")}, &fakeDAW{}, nil, Config{})
	_, err := a.Reply(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected model error, got %v", err)
	}
}

func TestReplyRejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	a := New(&scriptedModel{}, &fakeDAW{}, nil, Config{})
	if _, err := a.Reply(context.Background(), "  "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestToolCatalogNames(t *testing.T) {
	t.Parallel()

	var names []string
	for _, tool := range toolCatalog() {
		names = append(names, tool.Name)
	}
	want := "add_track,delete_track,add_fx_to_track,insert_media,generate_music"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("unexpected tools: %s", got)
	}
}

// cancellingDAW cancels the request after the first command it applies.
type cancellingDAW struct {
	fakeDAW
	cancel context.CancelFunc
}

func (d *cancellingDAW) AddTrack(ctx context.Context, name string) error {
	err := d.fakeDAW.AddTrack(ctx, name)
	d.cancel()
	return err
}

func TestReplyStopsRunningToolsOnceCancelled(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{script: []Completion{
		{ToolCalls: []ToolCall{
			{ID: "c1", Name: toolAddTrack, Arguments: `{"track_name":"Drums"}`},
			{ID: "c2", Name: toolAddTrack, Arguments: `{"track_name":"Bass"}`},
		}},
		{Content: "done"},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	daw := &cancellingDAW{cancel: cancel}
	a := New(model, daw, nil, Config{})

	_, err := a.Reply(ctx, "add drums and bass")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if strings.Join(daw.commands, ",") != "add:Drums" {
		t.Fatalf("tools ran after cancellation: %v", daw.commands)
	}
	if model.calls != 1 {
		t.Fatalf("model should not be consulted again, got %d calls", model.calls)
	}
}
