package audio

import (
	"context"
	"errors"
	"io"
	"sync"

	"studiomic/internal/logging"
	"studiomic/internal/ports"
)

var log = logging.L("capture")

// ErrAlreadyRecording is returned when Start is called while the unit holds the device.
var ErrAlreadyRecording = errors.New("capture already in progress")

const defaultChunkSize = 4096

// CaptureUnit owns the microphone stream and the chunk buffer of one recording
// at a time. The device handle is acquired in Start and released exactly once,
// by Stop, Close, or cancellation of the Start context.
type CaptureUnit struct {
	device    ports.AudioDevice
	cfg       ports.AudioConfig
	chunkSize int
	onError   func(error)

	mu        sync.Mutex
	acquiring bool
	recording bool
	stream    ports.AudioStream
	cancel    context.CancelFunc
	pumpDone  chan struct{}
	chunks    [][]byte
}

// NewCaptureUnit builds a unit over device. onError, when set, receives stream
// read failures that happen while recording.
func NewCaptureUnit(device ports.AudioDevice, cfg ports.AudioConfig, chunkSize int, onError func(error)) *CaptureUnit {
	if chunkSize < 256 {
		chunkSize = defaultChunkSize
	}
	return &CaptureUnit{device: device, cfg: cfg, chunkSize: chunkSize, onError: onError}
}

// Start acquires the device and begins buffering chunks.
func (u *CaptureUnit) Start(ctx context.Context) error {
	u.mu.Lock()
	if u.acquiring || u.stream != nil {
		u.mu.Unlock()
		return ErrAlreadyRecording
	}
	u.acquiring = true
	u.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := u.device.Open(streamCtx, u.cfg)

	u.mu.Lock()
	defer u.mu.Unlock()
	u.acquiring = false
	if err != nil {
		cancel()
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = errors.Join(ErrDeviceUnavailable, err)
		}
		return err
	}

	u.stream = stream
	u.cancel = cancel
	u.recording = true
	u.chunks = nil
	u.pumpDone = make(chan struct{})
	go u.pump(stream, u.pumpDone)
	return nil
}

// Stop releases the device, drains whatever the recorder already produced and
// returns the recorded chunks in arrival order. It is a no-op when not recording.
// A non-nil error reports an unclean device release; the chunks are still valid.
func (u *CaptureUnit) Stop() ([][]byte, error) {
	u.mu.Lock()
	if !u.recording {
		u.mu.Unlock()
		return nil, nil
	}
	stream, cancel, done := u.stream, u.cancel, u.pumpDone
	u.mu.Unlock()

	stopErr := stream.Stop()
	<-done
	cancel()

	u.mu.Lock()
	defer u.mu.Unlock()
	chunks := u.chunks
	u.chunks = nil
	u.recording = false
	u.stream = nil
	u.cancel = nil
	u.pumpDone = nil
	return chunks, stopErr
}

// Recording reports whether the unit currently holds the device.
func (u *CaptureUnit) Recording() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.recording
}

// Close discards any in-progress recording and releases the device.
func (u *CaptureUnit) Close() error {
	u.mu.Lock()
	if u.stream == nil {
		u.mu.Unlock()
		return nil
	}
	stream, cancel, done := u.stream, u.cancel, u.pumpDone
	u.recording = false
	u.chunks = nil
	u.mu.Unlock()

	err := stream.Stop()
	<-done
	cancel()

	u.mu.Lock()
	u.stream = nil
	u.cancel = nil
	u.pumpDone = nil
	u.chunks = nil
	u.mu.Unlock()
	return err
}

func (u *CaptureUnit) onChunk(chunk []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.recording {
		log.Debug("discarding chunk outside recording", "bytes", len(chunk))
		return
	}
	u.chunks = append(u.chunks, chunk)
}

func (u *CaptureUnit) pump(stream ports.AudioStream, done chan struct{}) {
	defer close(done)

	buf := make([]byte, u.chunkSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			u.onChunk(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("audio stream read failed", "error", err)
				if u.onError != nil && u.Recording() {
					u.onError(err)
				}
			}
			return
		}
	}
}
