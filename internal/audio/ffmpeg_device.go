package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"studiomic/internal/ports"
)

// ErrDeviceUnavailable reports a missing microphone, denied permission or a
// recorder that could not be started.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

var errRecorderKilled = errors.New("recorder killed after stop grace period")

const (
	startupProbe = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
)

// FFMPEGDevice streams microphone PCM (s16le) from an ffmpeg child process.
type FFMPEGDevice struct {
	command string
}

func NewFFMPEGDevice(command string) *FFMPEGDevice {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGDevice{command: command}
}

func (d *FFMPEGDevice) Open(ctx context.Context, cfg ports.AudioConfig) (ports.AudioStream, error) {
	cmd := exec.CommandContext(ctx, d.command, recorderArgs(cfg)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// Stdout goes through an io.Pipe so Wait only returns once every byte the
	// recorder produced has been handed to the reader.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.WaitDelay = stopGrace

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = pw.Close()
		waitErr <- err
		close(waitErr)
	}()

	// ffmpeg exits almost immediately when the input device is missing or access is denied.
	select {
	case err := <-waitErr:
		detail := strings.TrimSpace(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("%w: recorder exited: %v: %s", ErrDeviceUnavailable, err, detail)
		}
		return nil, fmt.Errorf("%w: recorder exited before capture started", ErrDeviceUnavailable)
	case <-time.After(startupProbe):
	}

	return &ffmpegStream{
		stdout:  pr,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

func recorderArgs(cfg ports.AudioConfig) []string {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
	}
	if cfg.NoiseSuppression {
		args = append(args, "-af", "afftdn")
	}
	return append(args,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	)
}

type ffmpegStream struct {
	stdout *io.PipeReader
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegStream) Close() error {
	return s.Stop()
}

// Stop interrupts the recorder so it flushes buffered audio, then kills it if
// it does not exit within the grace period. Safe to call more than once.
func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = ignoreExitStatus(err)
			}
		case <-time.After(stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			// Unblock the copy goroutine if nobody is draining the stream.
			_ = s.stdout.CloseWithError(errRecorderKilled)
			if err, ok := <-s.waitErr; ok {
				s.stopErr = ignoreExitStatus(err)
			}
		}

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	return err
}
