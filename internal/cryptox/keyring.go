package cryptox

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/tgfleet/internal/common"
)

const (
	envelopeFormat = 1
	headerSize     = 1 + 4
	nonceSize      = 12
)

// Keyring holds every key version the process can decrypt with and the
// version used for new writes. It is initialized once at startup and is
// safe for concurrent use because it is never mutated afterwards.
//
// Envelope layout: format(1) | key version(4, big endian) | nonce(12) | ciphertext.
// The header is authenticated as additional data so a version cannot be
// swapped without failing decryption.
type Keyring struct {
	current uint32
	keys    map[uint32][]byte
}

// NewKeyring validates the key set and returns a keyring sealing under current.
func NewKeyring(current uint32, keys map[uint32][]byte) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, errors.New("keyring: no keys")
	}
	k := &Keyring{current: current, keys: make(map[uint32][]byte, len(keys))}
	for v, key := range keys {
		if v == 0 {
			return nil, errors.New("keyring: key version 0 is reserved")
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("keyring: key version %d has %d bytes, want %d", v, len(key), KeySize)
		}
		k.keys[v] = append([]byte(nil), key...)
	}
	if _, ok := k.keys[current]; !ok {
		return nil, fmt.Errorf("keyring: current version %d has no key", current)
	}
	return k, nil
}

// Current returns the key version used for new envelopes.
func (k *Keyring) Current() uint32 { return k.current }

// Versions lists the loaded key versions in ascending order.
func (k *Keyring) Versions() []uint32 {
	out := make([]uint32, 0, len(k.keys))
	for v := range k.keys {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Seal encrypts plaintext under the current key.
func (k *Keyring) Seal(plaintext []byte) ([]byte, error) {
	header := make([]byte, headerSize)
	header[0] = envelopeFormat
	binary.BigEndian.PutUint32(header[1:], k.current)

	ciphertext, nonce, err := seal(plaintext, k.keys[k.current], header)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}

	out := make([]byte, 0, headerSize+nonceSize+len(ciphertext))
	out = append(out, header...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Open decrypts an envelope with whichever key version it names. Any failure
// is reported as common.ErrStoreCorruption.
func (k *Keyring) Open(envelope []byte) ([]byte, error) {
	version, err := EnvelopeVersion(envelope)
	if err != nil {
		return nil, err
	}
	key, ok := k.keys[version]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key version %d", common.ErrStoreCorruption, version)
	}
	nonce := envelope[headerSize : headerSize+nonceSize]
	plaintext, err := open(envelope[headerSize+nonceSize:], nonce, key, envelope[:headerSize])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreCorruption, err)
	}
	return plaintext, nil
}

// Reseal re-encrypts an envelope under the current key. Envelopes already at
// the current version are returned unchanged.
func (k *Keyring) Reseal(envelope []byte) ([]byte, error) {
	version, err := EnvelopeVersion(envelope)
	if err != nil {
		return nil, err
	}
	if version == k.current {
		return envelope, nil
	}
	plaintext, err := k.Open(envelope)
	if err != nil {
		return nil, err
	}
	defer wipe(plaintext)
	return k.Seal(plaintext)
}

// SealJSON marshals v to JSON and seals it.
func (k *Keyring) SealJSON(v any) ([]byte, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	defer wipe(plaintext)
	return k.Seal(plaintext)
}

// OpenJSON opens an envelope and unmarshals the JSON plaintext into v.
func (k *Keyring) OpenJSON(envelope []byte, v any) error {
	plaintext, err := k.Open(envelope)
	if err != nil {
		return err
	}
	defer wipe(plaintext)
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStoreCorruption, err)
	}
	return nil
}

// EnvelopeVersion reads the key version from an envelope header.
func EnvelopeVersion(envelope []byte) (uint32, error) {
	if len(envelope) < headerSize+nonceSize {
		return 0, fmt.Errorf("%w: envelope too short", common.ErrStoreCorruption)
	}
	if envelope[0] != envelopeFormat {
		return 0, fmt.Errorf("%w: unknown envelope format %d", common.ErrStoreCorruption, envelope[0])
	}
	return binary.BigEndian.Uint32(envelope[1:headerSize]), nil
}

// Sealer is the part of Keyring repositories depend on.
type Sealer interface {
	Current() uint32
	Seal(plaintext []byte) ([]byte, error)
	Open(envelope []byte) ([]byte, error)
	SealJSON(v any) ([]byte, error)
	OpenJSON(envelope []byte, v any) error
}

var _ Sealer = (*Keyring)(nil)
