package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
)

// flacDecoder adapts mewkiz/flac to the pcmDecoder contract. FLAC frames
// carry per-channel sample slices at the stream's native bit depth; they are
// interleaved, scaled to 16 bits and resampled here.
type flacDecoder struct {
	stream *flac.Stream
}

func newFLACDecoder(r io.Reader) (*flacDecoder, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("audio: open flac: %w", err)
	}
	return &flacDecoder{stream: stream}, nil
}

func (d *flacDecoder) next() ([]int16, error) {
	frame, err := d.stream.ParseNext()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("audio: decode flac: %w", err)
	}

	channels := len(frame.Subframes)
	if channels == 0 {
		return nil, io.EOF
	}
	samples := len(frame.Subframes[0].Samples)

	// Scale to 16-bit by shifting from the stream bit depth.
	shift := int(d.stream.Info.BitsPerSample) - 16

	pcm := make([]int16, 0, samples*2)
	for i := range samples {
		left := frame.Subframes[0].Samples[i]
		right := left
		if channels > 1 {
			right = frame.Subframes[1].Samples[i]
		}
		if shift > 0 {
			left >>= shift
			right >>= shift
		} else if shift < 0 {
			left <<= -shift
			right <<= -shift
		}
		pcm = append(pcm, int16(left), int16(right))
	}

	return resampleStereo(pcm, int(d.stream.Info.SampleRate), sampleRate), nil
}

// FLACDuration reads the stream info block and reports the duration in
// milliseconds.
func FLACDuration(r io.Reader) (uint64, error) {
	stream, err := flac.New(r)
	if err != nil {
		return 0, fmt.Errorf("audio: open flac: %w", err)
	}
	if stream.Info.SampleRate == 0 {
		return 0, nil
	}
	return stream.Info.NSamples * 1000 / uint64(stream.Info.SampleRate), nil
}
