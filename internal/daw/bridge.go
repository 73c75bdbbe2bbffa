// Package daw sends automation commands to the DAW scripting bridge. Each
// command is one JSON line on a fresh TCP connection; nothing is read back.
package daw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"studiomic/internal/logging"
)

var log = logging.L("daw")

var ErrInvalidCommand = errors.New("invalid daw command")

const (
	CommandAddTrack    = "add_track"
	CommandDeleteTrack = "delete_track"
	CommandAddFX       = "add_fx"
	CommandInsertMedia = "insert_media"
)

// Command is the wire form of one bridge instruction.
type Command struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args"`
}

type Bridge struct {
	addr        string
	dialTimeout time.Duration
	dialer      net.Dialer
}

func NewBridge(addr string, dialTimeout time.Duration) *Bridge {
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	return &Bridge{addr: addr, dialTimeout: dialTimeout}
}

func (b *Bridge) AddTrack(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: track name is empty", ErrInvalidCommand)
	}
	return b.Send(ctx, Command{Command: CommandAddTrack, Args: map[string]any{"name": name}})
}

func (b *Bridge) DeleteTrack(ctx context.Context, track string) error {
	track = strings.TrimSpace(track)
	if track == "" {
		return fmt.Errorf("%w: track is empty", ErrInvalidCommand)
	}
	return b.Send(ctx, Command{Command: CommandDeleteTrack, Args: map[string]any{"track": track}})
}

func (b *Bridge) AddFX(ctx context.Context, track string, fx string) error {
	track, fx = strings.TrimSpace(track), strings.TrimSpace(fx)
	if track == "" || fx == "" {
		return fmt.Errorf("%w: track and fx are required", ErrInvalidCommand)
	}
	return b.Send(ctx, Command{Command: CommandAddFX, Args: map[string]any{"track": track, "fx": fx}})
}

func (b *Bridge) InsertMedia(ctx context.Context, path string, position float64) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: media path is empty", ErrInvalidCommand)
	}
	if position < 0 {
		position = 0
	}
	return b.Send(ctx, Command{Command: CommandInsertMedia, Args: map[string]any{"path": path, "position": position}})
}

// Send writes cmd to the bridge.
func (b *Bridge) Send(ctx context.Context, cmd Command) error {
	line, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode daw command: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, b.dialTimeout)
	defer cancel()
	conn, err := b.dialer.DialContext(dialCtx, "tcp", b.addr)
	if err != nil {
		return fmt.Errorf("daw bridge unreachable at %s: %w", b.addr, err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(b.dialTimeout))
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to send daw command: %w", err)
	}
	log.Debug("command sent", "command", cmd.Command)
	return nil
}
