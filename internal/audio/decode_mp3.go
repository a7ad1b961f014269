package audio

import (
	"errors"
	"fmt"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// mp3Decoder adapts go-mp3 to the pcmDecoder contract. go-mp3 always emits
// interleaved stereo little-endian int16, so only the sample rate needs
// normalising.
type mp3Decoder struct {
	dec *mp3.Decoder
}

func newMP3Decoder(r io.Reader) (*mp3Decoder, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("audio: open mp3: %w", err)
	}
	return &mp3Decoder{dec: dec}, nil
}

func (d *mp3Decoder) next() ([]int16, error) {
	buf := make([]byte, 8192)
	n, err := d.dec.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("audio: decode mp3: %w", err)
	}

	pcm := make([]int16, n/2)
	for i := range pcm {
		pcm[i] = int16(buf[i*2]) | int16(buf[i*2+1])<<8
	}
	return resampleStereo(pcm, d.dec.SampleRate(), sampleRate), nil
}

// MP3Duration decodes the stream headers and reports the total duration in
// milliseconds. go-mp3's Length is the decoded byte count at the source rate
// (stereo int16, 4 bytes per frame).
func MP3Duration(r io.Reader) (uint64, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return 0, fmt.Errorf("audio: open mp3: %w", err)
	}
	if dec.SampleRate() == 0 {
		return 0, nil
	}
	frames := dec.Length() / 4
	return uint64(frames * 1000 / int64(dec.SampleRate())), nil
}
