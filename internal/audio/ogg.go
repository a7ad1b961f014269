package audio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// oggPageHeaderSize is the fixed part of a page before the lacing table.
const oggPageHeaderSize = 27

// oggContinuedPacket is the header-type bit marking a page whose first
// segment continues the previous page's unfinished packet.
const oggContinuedPacket = 0x01

// oggPacketReader splits an Ogg stream into its packets. A page's lacing
// table delimits them: every lacing value below 255 ends one packet, a
// value of 255 continues it into the next segment or page.
type oggPacketReader struct {
	r       *bufio.Reader
	packets [][]byte
	partial []byte
}

func newOggPacketReader(r io.Reader) *oggPacketReader {
	return &oggPacketReader{r: bufio.NewReader(r)}
}

// nextPacket returns the next packet in stream order, or io.EOF. A packet
// left unfinished when the stream ends is discarded.
func (o *oggPacketReader) nextPacket() ([]byte, error) {
	for len(o.packets) == 0 {
		if err := o.readPage(); err != nil {
			return nil, err
		}
	}
	pkt := o.packets[0]
	o.packets = o.packets[1:]
	return pkt, nil
}

// readPage consumes one page and appends its completed packets.
func (o *oggPacketReader) readPage() error {
	var header [oggPageHeaderSize]byte
	if _, err := io.ReadFull(o.r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return err
	}
	if string(header[0:4]) != "OggS" {
		return errors.New("audio: bad ogg capture pattern")
	}

	lacing := make([]byte, int(header[26]))
	if _, err := io.ReadFull(o.r, lacing); err != nil {
		return fmt.Errorf("audio: read ogg lacing table: %w", err)
	}
	payloadLen := 0
	for _, l := range lacing {
		payloadLen += int(l)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(o.r, payload); err != nil {
		return fmt.Errorf("audio: read ogg page payload: %w", err)
	}

	// A carried-over partial is only valid when the page announces the
	// continuation; otherwise the stream lost a page and the remnant is
	// unusable.
	if header[5]&oggContinuedPacket == 0 {
		o.partial = nil
	}

	off := 0
	for _, l := range lacing {
		o.partial = append(o.partial, payload[off:off+int(l)]...)
		off += int(l)
		if l < 255 {
			o.packets = append(o.packets, o.partial)
			o.partial = nil
		}
	}
	return nil
}
