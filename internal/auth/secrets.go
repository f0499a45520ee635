// ABOUTME: Session secret derivation from an entropy source
// ABOUTME: 12 bytes decoded little-endian into the three secret words

package auth

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/2389/realmgate/internal/session"
)

// SecretsSize is the number of entropy bytes consumed per secret set
const SecretsSize = 12

// ErrShortEntropy is returned when the entropy source yields fewer than SecretsSize bytes
var ErrShortEntropy = errors.New("short entropy read")

// DecodeSecrets splits 12 bytes into OneTimeKey (0-3), SessionIDHigh (4-7)
// and SessionIDLow (8-11), each little-endian.
func DecodeSecrets(b [SecretsSize]byte) session.Secrets {
	return session.Secrets{
		OneTimeKey:    binary.LittleEndian.Uint32(b[0:4]),
		SessionIDHigh: binary.LittleEndian.Uint32(b[4:8]),
		SessionIDLow:  binary.LittleEndian.Uint32(b[8:12]),
	}
}

// SecretGenerator implements Policy.GenerateSessionSecrets. Embed it in a
// policy to get the standard derivation.
type SecretGenerator struct{}

// GenerateSessionSecrets reads exactly SecretsSize bytes from entropy.
func (SecretGenerator) GenerateSessionSecrets(entropy io.Reader) (session.Secrets, error) {
	if entropy == nil {
		return session.Secrets{}, fmt.Errorf("generating session secrets: nil entropy source")
	}

	var buf [SecretsSize]byte
	n, err := io.ReadFull(entropy, buf[:])
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return session.Secrets{}, fmt.Errorf("generating session secrets: got %d of %d bytes: %w", n, SecretsSize, ErrShortEntropy)
		}
		return session.Secrets{}, fmt.Errorf("generating session secrets: %w", err)
	}
	return DecodeSecrets(buf), nil
}
