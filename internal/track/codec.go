package track

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// The binary track format is a 4-byte big-endian header followed by a
// version-gated payload. The header packs the payload size in the low 30
// bits and sets bit 30 to mark the "versioned" flavour of the format:
//
//	header = (size & 0x3FFFFFFF) | (1 << 30)
//
// Payload layout (UTF = u16 length + raw bytes, nullable = u8 presence flag):
//
//	u8   version (1, 2 or 3)
//	UTF  title
//	UTF  author
//	u64  length (ms)
//	UTF  identifier
//	u8   isStream
//	v>=2 nullable-UTF uri
//	v>=3 nullable-UTF artworkUrl, nullable-UTF isrc
//	UTF  sourceName
//	u64  position (ms)

const (
	sizeMask      = 0x3FFFFFFF
	versionedFlag = 1 << 30
)

// ErrTruncated is returned when a track blob declares more payload bytes
// than it actually carries.
var ErrTruncated = errors.New("track: truncated payload")

// Version returns the codec version that Encode selects for info: 3 when
// artworkUrl or isrc is set, 2 when uri is set, 1 otherwise.
func Version(info Info) uint8 {
	switch {
	case info.ArtworkURL != nil || info.ISRC != nil:
		return 3
	case info.URI != nil:
		return 2
	default:
		return 1
	}
}

// Encode serialises info into the base64 track blob.
func Encode(info Info) string {
	version := Version(info)

	var payload bytes.Buffer
	payload.WriteByte(version)
	writeUTF(&payload, info.Title)
	writeUTF(&payload, info.Author)
	writeUint64(&payload, info.Length)
	writeUTF(&payload, info.Identifier)
	writeBool(&payload, info.IsStream)

	if version >= 2 {
		writeNullableUTF(&payload, info.URI)
	}
	if version >= 3 {
		writeNullableUTF(&payload, info.ArtworkURL)
		writeNullableUTF(&payload, info.ISRC)
	}

	writeUTF(&payload, info.SourceName)
	writeUint64(&payload, info.Position)

	blob := make([]byte, 4+payload.Len())
	header := uint32(payload.Len())&sizeMask | versionedFlag
	binary.BigEndian.PutUint32(blob[:4], header)
	copy(blob[4:], payload.Bytes())

	return base64.StdEncoding.EncodeToString(blob)
}

// Decode parses a base64 track blob back into a Track. The returned Track
// keeps the original encoded string so it can be echoed verbatim. Spaces
// are treated as `+` so that strings mangled by URL form decoding still
// parse.
func Decode(encoded string) (Track, error) {
	encoded = strings.ReplaceAll(encoded, " ", "+")
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Track{}, fmt.Errorf("track: decode base64: %w", err)
	}
	if len(raw) < 4 {
		return Track{}, ErrTruncated
	}

	header := binary.BigEndian.Uint32(raw[:4])
	size := int(header & sizeMask)
	if size > len(raw)-4 {
		return Track{}, ErrTruncated
	}

	r := bytes.NewReader(raw[4 : 4+size])

	version, err := r.ReadByte()
	if err != nil {
		return Track{}, ErrTruncated
	}

	var info Info
	if info.Title, err = readUTF(r); err != nil {
		return Track{}, err
	}
	if info.Author, err = readUTF(r); err != nil {
		return Track{}, err
	}
	if info.Length, err = readUint64(r); err != nil {
		return Track{}, err
	}
	if info.Identifier, err = readUTF(r); err != nil {
		return Track{}, err
	}
	isStream, err := r.ReadByte()
	if err != nil {
		return Track{}, ErrTruncated
	}
	info.IsStream = isStream != 0

	if version >= 2 {
		if info.URI, err = readNullableUTF(r); err != nil {
			return Track{}, err
		}
	}
	if version >= 3 {
		if info.ArtworkURL, err = readNullableUTF(r); err != nil {
			return Track{}, err
		}
		if info.ISRC, err = readNullableUTF(r); err != nil {
			return Track{}, err
		}
	}

	if info.SourceName, err = readUTF(r); err != nil {
		return Track{}, err
	}
	if info.Position, err = readUint64(r); err != nil {
		return Track{}, err
	}

	return Track{
		Encoded:    encoded,
		Info:       info,
		PluginInfo: map[string]any{},
		UserData:   map[string]any{},
	}, nil
}

// ── Binary helpers ──────────────────────────────────────────────────────────

func writeUTF(buf *bytes.Buffer, s string) {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s)))
	buf.Write(l[:])
	buf.WriteString(s)
}

func writeNullableUTF(buf *bytes.Buffer, s *string) {
	if s == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeUTF(buf, *s)
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readUTF(r *bytes.Reader) (string, error) {
	var l [2]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return "", ErrTruncated
	}
	b := make([]byte, binary.BigEndian.Uint16(l[:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return "", ErrTruncated
	}
	return string(b), nil
}

func readNullableUTF(r *bytes.Reader) (*string, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, ErrTruncated
	}
	if present == 0 {
		return nil, nil
	}
	s, err := readUTF(r)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrTruncated
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
