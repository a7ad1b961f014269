// Package voice implements the voice-gateway side of the media path: the
// websocket handshake state machine, UDP transport with IP discovery, RTP
// packet assembly with AEAD encryption, and the 20 ms pacer that pushes Opus
// frames onto the wire.
package voice

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// Transport encryption parameters of the aead_aes256_gcm_rtpsize mode.
const (
	// SecretKeySize is the AEAD key length delivered by SESSION_DESCRIPTION.
	SecretKeySize = 32
	// nonceSize is the GCM nonce length. The first four bytes carry a
	// packet counter, the rest stay zero.
	nonceSize = 12
)

// sealer encrypts RTP payloads with AES-256-GCM, authenticating the RTP
// header as additional data.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(key []byte) (*sealer, error) {
	if len(key) != SecretKeySize {
		return nil, fmt.Errorf("voice: secret key must be %d bytes, got %d", SecretKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("voice: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("voice: init gcm: %w", err)
	}
	return &sealer{aead: aead}, nil
}

// seal returns ciphertext||tag for payload under the given 12-byte nonce,
// authenticating aad.
func (s *sealer) seal(payload, nonce, aad []byte) []byte {
	return s.aead.Seal(nil, nonce, payload, aad)
}
