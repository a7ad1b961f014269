package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// oggCRCTable drives the Ogg page checksum: CRC-32 with polynomial
// 0x04C11DB7, no bit reflection, zero initial value and no final XOR.
var oggCRCTable = func() (table [256]uint32) {
	for i := range table {
		c := uint32(i) << 24
		for range 8 {
			if c&0x80000000 != 0 {
				c = c<<1 ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
		table[i] = c
	}
	return table
}()

func oggChecksum(page []byte) uint32 {
	var crc uint32
	for _, b := range page {
		crc = crc<<8 ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}

// oggPage assembles one checksummed page. Every segment becomes one lacing
// entry; a segment of exactly 255 bytes continues its packet into the
// following segment or page.
func oggPage(headerType byte, granule uint64, seq uint32, segments ...[]byte) []byte {
	var page bytes.Buffer
	page.WriteString("OggS")
	page.WriteByte(0) // version
	page.WriteByte(headerType)
	binary.Write(&page, binary.LittleEndian, granule)
	binary.Write(&page, binary.LittleEndian, uint32(1)) // serial
	binary.Write(&page, binary.LittleEndian, seq)
	binary.Write(&page, binary.LittleEndian, uint32(0)) // checksum placeholder
	page.WriteByte(byte(len(segments)))
	for _, s := range segments {
		page.WriteByte(byte(len(s)))
	}
	for _, s := range segments {
		page.Write(s)
	}

	out := page.Bytes()
	binary.LittleEndian.PutUint32(out[22:26], oggChecksum(out))
	return out
}

// opusIDPage builds the beginning-of-stream page carrying a 19-byte
// OpusHead identification header for 48 kHz stereo.
func opusIDPage() []byte {
	head := make([]byte, 0, 19)
	head = append(head, "OpusHead"...)
	head = append(head, 1, 2)                            // version, channel count
	head = binary.LittleEndian.AppendUint16(head, 312)   // pre-skip
	head = binary.LittleEndian.AppendUint32(head, 48000) // input sample rate
	head = binary.LittleEndian.AppendUint16(head, 0)     // output gain
	head = append(head, 0)                               // mapping family
	return oggPage(2, 0, 0, head)
}

func TestOggDurationLastPageGranule(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	stream.Write(opusIDPage())
	stream.Write(oggPage(0, 48000, 1, []byte{0xAA}))
	stream.Write(oggPage(0, 96000, 2, []byte{0xBB}))

	ms, err := OggDuration(&stream)
	if err != nil {
		t.Fatalf("OggDuration: %v", err)
	}
	if ms != 2000 {
		t.Errorf("duration = %d ms, want 2000", ms)
	}
}

func TestOggDurationSkipsIncompletePages(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	stream.Write(opusIDPage())
	stream.Write(oggPage(0, 48000, 1, []byte{0xAA}))
	stream.Write(oggPage(0, ^uint64(0), 2, []byte{0xBB}))

	ms, err := OggDuration(&stream)
	if err != nil {
		t.Fatalf("OggDuration: %v", err)
	}
	if ms != 1000 {
		t.Errorf("duration = %d ms, want 1000", ms)
	}
}

func TestOggDurationRejectsEmptyStream(t *testing.T) {
	t.Parallel()

	if _, err := OggDuration(bytes.NewReader(nil)); err == nil {
		t.Fatal("expected error for empty stream")
	}
}

func TestOggDurationRejectsBadCapture(t *testing.T) {
	t.Parallel()

	if _, err := OggDuration(bytes.NewReader(append([]byte("NotOggS"), make([]byte, 40)...))); err == nil {
		t.Fatal("expected capture pattern error")
	}
}
