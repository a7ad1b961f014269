package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// wavDecoder reads RIFF/WAVE streams carrying 16-bit integer or 32-bit
// IEEE-float PCM and normalises them to interleaved stereo int16 at 48 kHz.
type wavDecoder struct {
	r          io.Reader
	sampleRate int
	channels   int
	format     uint16 // 1 = integer PCM, 3 = IEEE float
	bitsPerSmp int
	remaining  int64 // bytes left in the data chunk
}

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

func newWAVDecoder(r io.Reader) (*wavDecoder, error) {
	d := &wavDecoder{r: r}
	if err := d.readHeader(); err != nil {
		return nil, err
	}
	return d, nil
}

// readHeader consumes the RIFF header and chunk list up to the start of the
// data chunk.
func (d *wavDecoder) readHeader() error {
	var riff [12]byte
	if _, err := io.ReadFull(d.r, riff[:]); err != nil {
		return fmt.Errorf("audio: read wav header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return errors.New("audio: not a RIFF/WAVE stream")
	}

	for {
		var chunk [8]byte
		if _, err := io.ReadFull(d.r, chunk[:]); err != nil {
			return fmt.Errorf("audio: read wav chunk: %w", err)
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(d.r, body); err != nil {
				return fmt.Errorf("audio: read wav fmt chunk: %w", err)
			}
			if size < 16 {
				return errors.New("audio: wav fmt chunk too short")
			}
			d.format = binary.LittleEndian.Uint16(body[0:2])
			d.channels = int(binary.LittleEndian.Uint16(body[2:4]))
			d.sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			d.bitsPerSmp = int(binary.LittleEndian.Uint16(body[14:16]))

		case "data":
			if d.sampleRate == 0 || d.channels == 0 {
				return errors.New("audio: wav data chunk before fmt chunk")
			}
			switch {
			case d.format == wavFormatPCM && d.bitsPerSmp == 16:
			case d.format == wavFormatFloat && d.bitsPerSmp == 32:
			default:
				return fmt.Errorf("audio: unsupported wav encoding (format %d, %d bits)", d.format, d.bitsPerSmp)
			}
			d.remaining = size
			return nil

		default:
			// LIST, fact and friends: skip.
			if _, err := io.CopyN(io.Discard, d.r, size); err != nil {
				return fmt.Errorf("audio: skip wav chunk %q: %w", id, err)
			}
		}
	}
}

func (d *wavDecoder) next() ([]int16, error) {
	if d.remaining <= 0 {
		return nil, io.EOF
	}

	bytesPerSample := d.bitsPerSmp / 8
	chunk := int64(4096 * bytesPerSample * d.channels)
	if chunk > d.remaining {
		chunk = d.remaining
	}
	buf := make([]byte, chunk)
	n, err := io.ReadFull(d.r, buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("audio: read wav data: %w", err)
	}
	d.remaining -= int64(n)
	buf = buf[:n-n%(bytesPerSample*d.channels)]

	var pcm []int16
	if d.format == wavFormatFloat {
		pcm = make([]int16, len(buf)/4)
		for i := range pcm {
			bits := binary.LittleEndian.Uint32(buf[i*4:])
			pcm[i] = clampToInt16(float64(math.Float32frombits(bits)))
		}
	} else {
		pcm = make([]int16, len(buf)/2)
		for i := range pcm {
			pcm[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
		}
	}

	if d.channels == 1 {
		pcm = monoToStereo(pcm)
	}
	return resampleStereo(pcm, d.sampleRate, sampleRate), nil
}

// WAVDuration reads the stream headers and reports the data-chunk duration
// in milliseconds.
func WAVDuration(r io.Reader) (uint64, error) {
	d, err := newWAVDecoder(r)
	if err != nil {
		return 0, err
	}
	bytesPerFrame := int64(d.bitsPerSmp / 8 * d.channels)
	if bytesPerFrame == 0 || d.sampleRate == 0 {
		return 0, nil
	}
	return uint64(d.remaining / bytesPerFrame * 1000 / int64(d.sampleRate)), nil
}
