package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// probeReadLimit bounds how much of a file the duration probe will inspect.
// The Segment Info element sits ahead of the first Cluster in any sanely
// muxed WebM file.
const probeReadLimit = 256 * 1024

// WebmDuration scans the head of a WebM stream for the Segment Info element
// and returns the declared duration in milliseconds. It returns 0 when the
// stream carries no Duration element.
func WebmDuration(r io.Reader) (uint64, error) {
	buf, err := io.ReadAll(io.LimitReader(r, probeReadLimit))
	if err != nil {
		return 0, err
	}

	timestampScale := uint64(1_000_000) // nanoseconds per tick, EBML default
	var durationTicks float64
	haveDuration := false

	for len(buf) > 0 {
		id, idLen, more, err := readVint(buf, true)
		if err != nil || more {
			break
		}
		size64, sizeLen, more, err := readVint(buf[idLen:], false)
		if err != nil || more {
			break
		}
		size := int(size64)
		headerLen := idLen + sizeLen

		switch id {
		case idEBML, idSegment, idInfo:
			buf = buf[headerLen:]

		case idTimestampScale:
			if len(buf) < headerLen+size {
				return 0, errors.New("audio: truncated webm head")
			}
			timestampScale = beUint(buf[headerLen : headerLen+size])
			buf = buf[headerLen+size:]

		case idDuration:
			if len(buf) < headerLen+size {
				return 0, errors.New("audio: truncated webm head")
			}
			body := buf[headerLen : headerLen+size]
			switch size {
			case 4:
				durationTicks = float64(math.Float32frombits(binary.BigEndian.Uint32(body)))
				haveDuration = true
			case 8:
				durationTicks = math.Float64frombits(binary.BigEndian.Uint64(body))
				haveDuration = true
			}
			buf = buf[headerLen+size:]

		case idCluster:
			// Media data starts here; Info is behind us.
			buf = nil

		default:
			if len(buf) < headerLen+size {
				buf = nil
				break
			}
			buf = buf[headerLen+size:]
		}

		if haveDuration && timestampScale != 0 {
			break
		}
	}

	if !haveDuration {
		return 0, nil
	}
	return uint64(durationTicks * float64(timestampScale) / 1e6), nil
}
