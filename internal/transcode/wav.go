// Package transcode turns captured PCM chunks into the canonical transport
// payload: 16-bit little-endian PCM in a WAV container, 16 kHz mono.
package transcode

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"studiomic/internal/logging"
	"studiomic/internal/ports"
)

var log = logging.L("transcode")

// ErrEncoding reports empty or malformed captured audio. It is terminal for the
// session: the user has to record again.
var ErrEncoding = errors.New("audio encoding failed")

const (
	CanonicalFormat     = "wav"
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1

	bitDepth     = 16
	wavPCMFormat = 1
)

// WAVEncoder normalizes raw s16le capture into the canonical WAV payload.
type WAVEncoder struct {
	inputRate     int
	inputChannels int
}

// NewWAVEncoder describes the capture format the chunks arrive in.
func NewWAVEncoder(inputRate, inputChannels int) *WAVEncoder {
	if inputRate <= 0 {
		inputRate = CanonicalSampleRate
	}
	if inputChannels <= 0 {
		inputChannels = CanonicalChannels
	}
	return &WAVEncoder{inputRate: inputRate, inputChannels: inputChannels}
}

// Encode concatenates chunks in order and writes them as canonical WAV. The
// output depends only on the chunk bytes and their order. A trailing partial
// sample frame is dropped.
func (e *WAVEncoder) Encode(chunks [][]byte) (ports.EncodedAudio, error) {
	pcm := concat(chunks)
	if len(pcm) == 0 {
		return ports.EncodedAudio{}, fmt.Errorf("%w: no audio captured", ErrEncoding)
	}

	frame := 2 * e.inputChannels
	if rem := len(pcm) % frame; rem != 0 {
		log.Debug("dropping partial sample frame", "bytes", rem)
		pcm = pcm[:len(pcm)-rem]
	}
	if len(pcm) == 0 {
		return ports.EncodedAudio{}, fmt.Errorf("%w: captured audio shorter than one sample", ErrEncoding)
	}

	pcm = DownmixToMono(pcm, e.inputChannels)
	pcm = ResampleMono(pcm, e.inputRate, CanonicalSampleRate)
	if len(pcm) < 2 {
		return ports.EncodedAudio{}, fmt.Errorf("%w: no samples after resampling", ErrEncoding)
	}

	data, err := writeWAV(pcm)
	if err != nil {
		return ports.EncodedAudio{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return ports.EncodedAudio{
		Data:       data,
		Format:     CanonicalFormat,
		SampleRate: CanonicalSampleRate,
		Channels:   CanonicalChannels,
	}, nil
}

func concat(chunks [][]byte) []byte {
	total := 0
	for _, chunk := range chunks {
		total += len(chunk)
	}
	out := make([]byte, 0, total)
	for _, chunk := range chunks {
		out = append(out, chunk...)
	}
	return out
}

func writeWAV(pcm []byte) ([]byte, error) {
	samples := len(pcm) / 2
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: CanonicalChannels,
			SampleRate:  CanonicalSampleRate,
		},
		Data:           make([]int, samples),
		SourceBitDepth: bitDepth,
	}
	for i := 0; i < samples; i++ {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	out := &seekBuffer{}
	enc := wav.NewEncoder(out, CanonicalSampleRate, bitDepth, CanonicalChannels, wavPCMFormat)
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
