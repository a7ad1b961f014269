// Package audio contains the media pipeline of the gateway: a streaming
// WebM/Opus demuxer, PCM transcoding to Opus, and the processor that picks
// between the two for a given byte stream.
package audio

import (
	"errors"
	"fmt"
	"io"
)

// EBML element IDs the demuxer cares about. IDs are read with their marker
// bit kept, so these match the on-disk byte sequences.
const (
	idEBML         = 0x1A45DFA3
	idSegment      = 0x18538067
	idCluster      = 0x1F43B675
	idTracks       = 0x1654AE6B
	idTrackEntry   = 0xAE
	idTrackNumber  = 0xD7
	idTrackType    = 0x83
	idCodecPrivate = 0x63A2
	idSimpleBlock  = 0xA3
	idVoid         = 0xEC

	// Used by the duration probe only.
	idInfo           = 0x1549A966
	idTimestampScale = 0x2AD7B1
	idDuration       = 0x4489
)

// trackTypeAudio is the TrackType value marking an audio track.
const trackTypeAudio = 2

var opusHead = []byte("OpusHead")

// errInvalidVint marks a variable-length integer wider than 8 bytes.
var errInvalidVint = errors.New("audio: invalid vint width")

// readVint parses an EBML variable-length integer from the head of buf.
// The width is the number of leading zero bits of the first byte plus one;
// widths above 8 are invalid. With keepMarker the marker bit stays part of
// the value (used for element IDs). Returns needMore=true when buf does not
// hold the full vint yet.
func readVint(buf []byte, keepMarker bool) (value uint64, width int, needMore bool, err error) {
	if len(buf) == 0 {
		return 0, 0, true, nil
	}

	first := buf[0]
	width = 1
	for mask := byte(0x80); mask != 0 && first&mask == 0; mask >>= 1 {
		width++
	}
	if width > 8 {
		return 0, 0, false, errInvalidVint
	}
	if len(buf) < width {
		return 0, 0, true, nil
	}

	if keepMarker {
		value = uint64(first)
	} else {
		value = uint64(first & (1<<(8-width) - 1))
	}
	for i := 1; i < width; i++ {
		value = value<<8 | uint64(buf[i])
	}
	return value, width, false, nil
}

// WebmDemuxer incrementally parses a WebM byte stream and yields the Opus
// payloads of the selected audio track's SimpleBlocks, in stream order.
//
// The parser is resumable: when the buffered input runs short it pulls more
// bytes from the underlying reader, and a skip that spans reads is carried
// in skipRemaining. Only container headers are consumed ahead of their
// payload; leaf elements are consumed whole.
type WebmDemuxer struct {
	r   io.Reader
	buf []byte
	err error

	selectedTrack uint64
	haveSelected  bool

	pendingTrackNumber uint64
	pendingTrackType   uint64

	skipRemaining int
}

// NewWebmDemuxer wraps r in a streaming WebM/Opus demuxer.
func NewWebmDemuxer(r io.Reader) *WebmDemuxer {
	return &WebmDemuxer{r: r}
}

// NextFrame returns the next Opus payload from the stream. It returns
// io.EOF once the stream is exhausted.
func (d *WebmDemuxer) NextFrame() ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	for {
		frame, needMore, err := d.parse()
		if err != nil {
			d.err = err
			return nil, err
		}
		if frame != nil {
			return frame, nil
		}
		if needMore {
			if err := d.fill(); err != nil {
				d.err = err
				return nil, err
			}
		}
	}
}

// fill reads one chunk from the underlying reader into the parse buffer.
// A clean reader EOF surfaces as io.EOF: any buffered partial element is a
// truncated tail and is dropped.
func (d *WebmDemuxer) fill() error {
	chunk := make([]byte, 4096)
	n, err := d.r.Read(chunk)
	if n > 0 {
		d.buf = append(d.buf, chunk[:n]...)
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return io.EOF
	}
	return fmt.Errorf("audio: read webm stream: %w", err)
}

// parse advances through buffered input until it emits a frame or runs out
// of bytes. It returns (nil, true, nil) when more input is required.
func (d *WebmDemuxer) parse() (frame []byte, needMore bool, err error) {
	for {
		if d.skipRemaining > 0 {
			if len(d.buf) >= d.skipRemaining {
				d.buf = d.buf[d.skipRemaining:]
				d.skipRemaining = 0
			} else {
				d.skipRemaining -= len(d.buf)
				d.buf = nil
				return nil, true, nil
			}
		}

		id, idLen, more, err := readVint(d.buf, true)
		if err != nil {
			return nil, false, err
		}
		if more {
			return nil, true, nil
		}

		size64, sizeLen, more, err := readVint(d.buf[idLen:], false)
		if err != nil {
			return nil, false, err
		}
		if more {
			return nil, true, nil
		}
		size := int(size64)
		headerLen := idLen + sizeLen

		switch id {
		case idEBML, idSegment, idCluster, idTracks, idTrackEntry:
			// Containers: consume the header only and descend.
			d.buf = d.buf[headerLen:]
			if id == idTrackEntry {
				d.pendingTrackNumber = 0
				d.pendingTrackType = 0
			}

		case idTrackNumber:
			if len(d.buf) < headerLen+size {
				return nil, true, nil
			}
			d.pendingTrackNumber = beUint(d.buf[headerLen : headerLen+size])
			d.buf = d.buf[headerLen+size:]

		case idTrackType:
			if len(d.buf) < headerLen+size {
				return nil, true, nil
			}
			d.pendingTrackType = beUint(d.buf[headerLen : headerLen+size])
			if d.pendingTrackType == trackTypeAudio {
				d.selectedTrack = d.pendingTrackNumber
				d.haveSelected = true
			}
			d.buf = d.buf[headerLen+size:]

		case idCodecPrivate:
			if len(d.buf) < headerLen+size {
				return nil, true, nil
			}
			body := d.buf[headerLen : headerLen+size]
			if size >= 8 && string(body[:8]) != string(opusHead) {
				return nil, false, fmt.Errorf("audio: codec private data is not OpusHead")
			}
			d.buf = d.buf[headerLen+size:]

		case idSimpleBlock:
			if len(d.buf) < headerLen+size {
				return nil, true, nil
			}
			block := d.buf[headerLen : headerLen+size]
			d.buf = d.buf[headerLen+size:]

			trackNum, trackLen, more, err := readVint(block, false)
			if err != nil || more {
				// Unparseable block header: skip the block.
				continue
			}
			// Block header is the track vint plus 1 byte of flags and a
			// 2-byte timestamp delta. Shorter blocks are skipped.
			if !d.haveSelected || trackNum != d.selectedTrack || len(block) < trackLen+3 {
				continue
			}
			payload := make([]byte, len(block)-trackLen-3)
			copy(payload, block[trackLen+3:])
			return payload, false, nil

		case idVoid:
			d.buf = d.buf[headerLen:]
			d.skipRemaining = size

		default:
			// Anything unrecognised: consume the header now, skip the
			// payload (possibly across several reads).
			d.buf = d.buf[headerLen:]
			d.skipRemaining = size
		}
	}
}

// beUint reads a big-endian unsigned integer of up to 8 bytes.
func beUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
