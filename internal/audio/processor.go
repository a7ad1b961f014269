package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"layeh.com/gopus"
)

// The gateway transmits 48 kHz stereo Opus at 20 ms frame size.
const (
	sampleRate = 48000
	channels   = 2
	// frameSize is the number of samples per channel per 20 ms frame.
	frameSize = sampleRate * 20 / 1000 // 960
	// frameSamples is the interleaved sample count of one frame.
	frameSamples = frameSize * channels // 1920
	// maxOpusPacket bounds the encoded size of a single Opus packet.
	maxOpusPacket = 4000
)

// ErrUnsupportedFormat is returned for containers the gateway cannot decode.
var ErrUnsupportedFormat = errors.New("audio: unsupported container format")

// pcmDecoder produces chunks of interleaved stereo int16 PCM at 48 kHz.
// Implementations return io.EOF when the source is exhausted.
type pcmDecoder interface {
	next() ([]int16, error)
}

// Processor turns an arbitrary source byte stream into a sequence of Opus
// packets. WebM/Opus and Ogg/Opus streams pass through without re-encoding;
// everything else is decoded to PCM and encoded with Opus.
type Processor struct {
	webm   *WebmDemuxer
	ogg    *oggPacketReader
	dec    pcmDecoder
	enc    *gopus.Encoder
	pcmBuf []int16
}

// NewProcessor builds the pipeline matching declaredFormat, a MIME type or
// the literal "webm/opus". Unknown formats fall back to the WebM demuxer,
// which fails cleanly on the first frame if the stream is something else.
func NewProcessor(r io.Reader, declaredFormat string) (*Processor, error) {
	switch declaredFormat {
	case "webm/opus", "audio/webm", "video/webm":
		return &Processor{webm: NewWebmDemuxer(r)}, nil

	case "audio/ogg", "application/ogg":
		return &Processor{ogg: newOggPacketReader(r)}, nil

	case "audio/mpeg", "audio/mp3":
		return newTranscoder(func() (pcmDecoder, error) { return newMP3Decoder(r) })

	case "audio/wav", "audio/x-wav":
		return newTranscoder(func() (pcmDecoder, error) { return newWAVDecoder(r) })

	case "audio/flac", "audio/x-flac":
		return newTranscoder(func() (pcmDecoder, error) { return newFLACDecoder(r) })

	case "audio/mp4", "video/mp4", "audio/aac", "audio/aacp":
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, declaredFormat)

	default:
		return &Processor{webm: NewWebmDemuxer(r)}, nil
	}
}

func newTranscoder(open func() (pcmDecoder, error)) (*Processor, error) {
	dec, err := open()
	if err != nil {
		return nil, err
	}
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &Processor{dec: dec, enc: enc}, nil
}

// NextPacket returns the next Opus packet of the stream, or io.EOF.
func (p *Processor) NextPacket() ([]byte, error) {
	switch {
	case p.webm != nil:
		return p.webm.NextFrame()
	case p.ogg != nil:
		return p.nextOggPacket()
	default:
		return p.nextTranscoded()
	}
}

// nextOggPacket returns the next Opus packet of the stream, skipping the
// OpusHead and OpusTags header packets.
func (p *Processor) nextOggPacket() ([]byte, error) {
	for {
		pkt, err := p.ogg.nextPacket()
		if err != nil {
			return nil, err
		}
		if bytes.HasPrefix(pkt, []byte("OpusHead")) || bytes.HasPrefix(pkt, []byte("OpusTags")) {
			continue
		}
		if len(pkt) == 0 {
			continue
		}
		return pkt, nil
	}
}

// nextTranscoded buffers decoded PCM to a 1920-sample frame boundary and
// encodes exactly one 20 ms frame per call. A trailing partial frame is
// dropped, matching the frame-aligned send cadence.
func (p *Processor) nextTranscoded() ([]byte, error) {
	for len(p.pcmBuf) < frameSamples {
		chunk, err := p.dec.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		p.pcmBuf = append(p.pcmBuf, chunk...)
	}

	frame := p.pcmBuf[:frameSamples]
	p.pcmBuf = p.pcmBuf[frameSamples:]

	packet, err := p.enc.Encode(frame, frameSize, maxOpusPacket)
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode: %w", err)
	}
	return packet, nil
}
