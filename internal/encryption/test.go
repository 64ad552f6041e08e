package encryption

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"chatvault/internal/arc"
)

// envelopeMagic opens every snapshot sealed by TestEncryptor. The byte after
// it is the envelope version.
var envelopeMagic = []byte("CVENC")

const (
	envelopeVersion = 1
	// magic, version byte, big-endian payload length
	envelopeHeaderLen  = 5 + 1 + 8
	envelopeTrailerLen = sha256.Size
)

// ErrCorruptSnapshot is returned when a sealed snapshot fails verification.
var ErrCorruptSnapshot = errors.New("corrupt snapshot envelope")

// TestEncryptor seals snapshots in a plaintext envelope: a header carrying
// the payload length and a SHA-256 trailer. It needs no keys, so the vault
// round trip can be exercised without age, and a truncated or altered
// upload still fails on restore.
type TestEncryptor struct{}

var _ arc.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a TestEncryptor.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

// Setup is a no-op; the envelope has no key material.
func (e *TestEncryptor) Setup(string) error {
	return nil
}

// Encrypt reads the whole snapshot and writes it sealed to w.
func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}

	header := make([]byte, 0, envelopeHeaderLen)
	header = append(header, envelopeMagic...)
	header = append(header, envelopeVersion)
	header = binary.BigEndian.AppendUint64(header, uint64(len(payload)))
	sum := sha256.Sum256(payload)

	for _, part := range [][]byte{header, payload, sum[:]} {
		if _, err := w.Write(part); err != nil {
			return fmt.Errorf("writing envelope: %w", err)
		}
	}
	return nil
}

// Unlock accepts any passphrase.
func (e *TestEncryptor) Unlock(string) (arc.DecryptionContext, error) {
	return envelopeOpener{}, nil
}

// IsConfigured is always true.
func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// envelopeOpener verifies and unwraps a sealed snapshot.
type envelopeOpener struct{}

func (envelopeOpener) Decrypt(r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading envelope: %w", err)
	}
	payload, err := openEnvelope(data)
	if err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// openEnvelope returns the payload of a sealed snapshot after checking the
// magic, version, declared length and checksum.
func openEnvelope(data []byte) ([]byte, error) {
	if len(data) < envelopeHeaderLen+envelopeTrailerLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than header and trailer", ErrCorruptSnapshot, len(data))
	}
	if !bytes.HasPrefix(data, envelopeMagic) {
		return nil, fmt.Errorf("%w: missing magic", ErrCorruptSnapshot)
	}
	if v := data[len(envelopeMagic)]; v != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, v)
	}
	size := binary.BigEndian.Uint64(data[len(envelopeMagic)+1 : envelopeHeaderLen])
	body := data[envelopeHeaderLen:]
	if uint64(len(body)) != size+envelopeTrailerLen {
		return nil, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrCorruptSnapshot, len(body)-envelopeTrailerLen, size)
	}
	payload, trailer := body[:size], body[size:]
	if sum := sha256.Sum256(payload); !bytes.Equal(sum[:], trailer) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}
	return payload, nil
}
