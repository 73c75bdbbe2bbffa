package transcode

import (
	"encoding/binary"
	"errors"
	"io"
)

// DownmixToMono averages interleaved s16le channels into one.
func DownmixToMono(input []byte, channels int) []byte {
	if channels <= 1 {
		return input
	}
	frames := len(input) / (2 * channels)
	output := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			sum += int(int16(binary.LittleEndian.Uint16(input[off:])))
		}
		binary.LittleEndian.PutUint16(output[i*2:], uint16(int16(sum/channels)))
	}
	return output
}

// ResampleMono converts mono s16le PCM between sample rates with linear interpolation.
func ResampleMono(input []byte, inputRate, outputRate int) []byte {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 {
		return input
	}

	inputSamples := len(input) / 2
	if inputSamples == 0 {
		return nil
	}
	ratio := float64(outputRate) / float64(inputRate)
	outputSamples := int(float64(inputSamples) * ratio)
	output := make([]byte, outputSamples*2)

	for i := 0; i < outputSamples; i++ {
		srcPos := float64(i) / ratio
		idx1 := int(srcPos)
		frac := srcPos - float64(idx1)

		idx2 := idx1 + 1
		if idx1 >= inputSamples {
			idx1 = inputSamples - 1
		}
		if idx2 >= inputSamples {
			idx2 = inputSamples - 1
		}

		s1 := int16(binary.LittleEndian.Uint16(input[idx1*2:]))
		s2 := int16(binary.LittleEndian.Uint16(input[idx2*2:]))
		sample := float64(s1)*(1-frac) + float64(s2)*frac

		binary.LittleEndian.PutUint16(output[i*2:], uint16(int16(sample)))
	}
	return output
}

// seekBuffer is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes into the header on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.buf) {
		if end > cap(b.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, b.buf)
			b.buf = grown
		} else {
			b.buf = b.buf[:end]
		}
	}
	copy(b.buf[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.buf)) + offset
	default:
		return 0, errors.New("seekBuffer: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seekBuffer: negative position")
	}
	b.pos = int(abs)
	return abs, nil
}

func (b *seekBuffer) Bytes() []byte {
	return b.buf
}
