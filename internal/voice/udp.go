package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtp"

	"github.com/aelira-dev/aelira/internal/observe"
)

const (
	// rtpPayloadType is the dynamic payload type used for Opus audio.
	rtpPayloadType = 0x78
	// samplesPerFrame advances the RTP timestamp per 20 ms Opus frame.
	samplesPerFrame = 960

	discoveryPacketSize  = 74
	discoveryTypeRequest = 1
)

var errNoSecretKey = errors.New("voice: secret key not set")

// UDPChannel is the RTP transport of one voice connection. It performs IP
// discovery against the voice server and assembles, encrypts and sends RTP
// packets carrying Opus payloads.
type UDPChannel struct {
	conn *net.UDPConn
	ssrc uint32

	mu     sync.Mutex
	sealer *sealer

	sequence  uint16
	timestamp uint32
	nonce     uint32
}

// DialUDP opens a UDP socket to the voice server's media endpoint.
func DialUDP(ip string, port uint16, ssrc uint32) (*UDPChannel, error) {
	addr := net.JoinHostPort(ip, fmt.Sprintf("%d", port))
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("voice: resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("voice: dial %s: %w", addr, err)
	}
	return &UDPChannel{conn: conn, ssrc: ssrc}, nil
}

// Discover performs the voice-server IP discovery round trip and returns
// the externally visible address and port of the local socket.
func (u *UDPChannel) Discover() (string, uint16, error) {
	req := make([]byte, discoveryPacketSize)
	binary.BigEndian.PutUint16(req[0:2], discoveryTypeRequest)
	binary.BigEndian.PutUint16(req[2:4], discoveryPacketSize-4)
	binary.BigEndian.PutUint32(req[4:8], u.ssrc)

	if _, err := u.conn.Write(req); err != nil {
		return "", 0, fmt.Errorf("voice: send discovery: %w", err)
	}

	resp := make([]byte, discoveryPacketSize)
	n, err := u.conn.Read(resp)
	if err != nil {
		return "", 0, fmt.Errorf("voice: read discovery: %w", err)
	}
	return parseDiscovery(resp[:n])
}

// parseDiscovery extracts the external address from a discovery response:
// NUL-padded ASCII starting at offset 8, big-endian port in the final two
// bytes.
func parseDiscovery(resp []byte) (string, uint16, error) {
	if len(resp) < 10 {
		return "", 0, fmt.Errorf("voice: discovery response too short (%d bytes)", len(resp))
	}
	raw := resp[8 : len(resp)-2]
	ip := string(bytes.TrimRight(raw, "\x00"))
	if ip == "" {
		return "", 0, errors.New("voice: discovery response carries no address")
	}
	port := binary.BigEndian.Uint16(resp[len(resp)-2:])
	return ip, port, nil
}

// SetSecretKey installs the AEAD key from SESSION_DESCRIPTION. Until it is
// set, SendOpus fails.
func (u *UDPChannel) SetSecretKey(key []byte) error {
	s, err := newSealer(key)
	if err != nil {
		return err
	}
	u.mu.Lock()
	u.sealer = s
	u.mu.Unlock()
	return nil
}

// SendOpus encrypts one Opus frame and sends it as an RTP packet. The
// sequence number, timestamp and nonce counter advance by one frame with
// wrap-around on overflow. Safe for concurrent use: a track replacement can
// briefly overlap the outgoing pacer with its successor, and their sends
// serialize here.
func (u *UDPChannel) SendOpus(payload []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	s := u.sealer
	if s == nil {
		return errNoSecretKey
	}

	header := rtp.Header{
		Version:        2,
		PayloadType:    rtpPayloadType,
		SequenceNumber: u.sequence,
		Timestamp:      u.timestamp,
		SSRC:           u.ssrc,
	}
	headerBytes, err := header.Marshal()
	if err != nil {
		return fmt.Errorf("voice: marshal rtp header: %w", err)
	}

	var nonce [nonceSize]byte
	binary.BigEndian.PutUint32(nonce[0:4], u.nonce)

	packet := make([]byte, 0, len(headerBytes)+len(payload)+s.aead.Overhead()+4)
	packet = append(packet, headerBytes...)
	packet = append(packet, s.seal(payload, nonce[:], headerBytes)...)
	packet = append(packet, nonce[0:4]...)

	if _, err := u.conn.Write(packet); err != nil {
		return fmt.Errorf("voice: send rtp packet: %w", err)
	}
	observe.DefaultMetrics().FramesSent.Add(context.Background(), 1)

	u.sequence++
	u.timestamp += samplesPerFrame
	u.nonce++
	return nil
}

// Close releases the UDP socket.
func (u *UDPChannel) Close() error {
	return u.conn.Close()
}
