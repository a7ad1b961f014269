package audio

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestOggSplitsPackedPage(t *testing.T) {
	t.Parallel()

	first := bytes.Repeat([]byte{0xAA}, 10)
	second := bytes.Repeat([]byte{0xBB}, 20)

	var stream bytes.Buffer
	stream.Write(oggPage(0, 960, 0, first, second))

	o := newOggPacketReader(&stream)
	pkt, err := o.nextPacket()
	if err != nil {
		t.Fatalf("first packet: %v", err)
	}
	if !bytes.Equal(pkt, first) {
		t.Errorf("first packet = %d bytes %x, want %x", len(pkt), pkt, first)
	}
	pkt, err = o.nextPacket()
	if err != nil {
		t.Fatalf("second packet: %v", err)
	}
	if !bytes.Equal(pkt, second) {
		t.Errorf("second packet = %d bytes %x, want %x", len(pkt), pkt, second)
	}
	if _, err := o.nextPacket(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestOggReassemblesPacketAcrossPages(t *testing.T) {
	t.Parallel()

	// 300 bytes: a full 255-byte lacing segment continues into a 45-byte
	// segment on the next page.
	pkt := make([]byte, 300)
	for i := range pkt {
		pkt[i] = byte(i)
	}

	var stream bytes.Buffer
	stream.Write(oggPage(0, ^uint64(0), 0, pkt[:255]))
	stream.Write(oggPage(oggContinuedPacket, 960, 1, pkt[255:]))

	o := newOggPacketReader(&stream)
	got, err := o.nextPacket()
	if err != nil {
		t.Fatalf("nextPacket: %v", err)
	}
	if !bytes.Equal(got, pkt) {
		t.Errorf("reassembled packet has %d bytes, want %d", len(got), len(pkt))
	}
	if _, err := o.nextPacket(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestOggDropsPartialPacketAtEOF(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	stream.Write(oggPage(0, 960, 0, []byte{0xAA, 0xBB}))
	// The continuation page never arrives.
	stream.Write(oggPage(0, ^uint64(0), 1, bytes.Repeat([]byte{0xCC}, 255)))

	o := newOggPacketReader(&stream)
	pkt, err := o.nextPacket()
	if err != nil {
		t.Fatalf("nextPacket: %v", err)
	}
	if !bytes.Equal(pkt, []byte{0xAA, 0xBB}) {
		t.Errorf("packet = %x", pkt)
	}
	if _, err := o.nextPacket(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF for trailing partial packet, got %v", err)
	}
}

func TestOggRejectsBadCapturePattern(t *testing.T) {
	t.Parallel()

	o := newOggPacketReader(bytes.NewReader(append([]byte("NotOggS"), make([]byte, 40)...)))
	if _, err := o.nextPacket(); err == nil {
		t.Fatal("expected capture pattern error")
	}
}

func TestProcessorSplitsOggPagePackets(t *testing.T) {
	t.Parallel()

	frame1 := []byte{0xF8, 0xFF, 0xFE}
	frame2 := bytes.Repeat([]byte{0xAB}, 20)

	var stream bytes.Buffer
	stream.Write(opusIDPage())
	stream.Write(oggPage(0, 0, 1, []byte("OpusTags\x00\x00\x00\x00\x00\x00\x00\x00")))
	// One audio page packing two Opus packets.
	stream.Write(oggPage(0, 1920, 2, frame1, frame2))

	p, err := NewProcessor(&stream, "audio/ogg")
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	pkt, err := p.NextPacket()
	if err != nil {
		t.Fatalf("first packet: %v", err)
	}
	if !bytes.Equal(pkt, frame1) {
		t.Errorf("first packet = %x, want %x", pkt, frame1)
	}
	pkt, err = p.NextPacket()
	if err != nil {
		t.Fatalf("second packet: %v", err)
	}
	if !bytes.Equal(pkt, frame2) {
		t.Errorf("second packet = %x, want %x", pkt, frame2)
	}
	if _, err := p.NextPacket(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
