// Package cryptox implements the field-level encryption used by the
// encrypted store: AES-256-GCM envelopes tagged with a key version, a
// versioned keyring, passphrase key derivation and content fingerprints.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"

	"golang.org/x/crypto/argon2"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// DeriveMasterKey stretches a passphrase into a KeySize key with Argon2id.
// The same password and salt always give the same key.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	x := argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
	return x
}

// EncryptEntry serializes the given entry to JSON and encrypts it using AES-GCM.
//
// The key must be a valid AES key length (16, 24, or 32 bytes). A new random
// 12-byte nonce is generated for each encryption; aad is authenticated but
// not encrypted and must be passed unchanged to DecryptEntry.
func EncryptEntry(entry any, key, aad []byte) (ciphertext, nonce []byte, err error) {

	// serializing JSON
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return nil, nil, err
	}
	defer wipe(plaintext)

	return seal(plaintext, key, aad)
}

// DecryptEntry decrypts ciphertext produced by EncryptEntry and unmarshals
// the resulting JSON into v.
func DecryptEntry(ciphertext, nonce, key, aad []byte, v any) error {
	plaintext, err := open(ciphertext, nonce, key, aad)
	if err != nil {
		return err
	}
	defer wipe(plaintext)

	return json.Unmarshal(plaintext, v)
}

func seal(plaintext, key, aad []byte) (ciphertext, nonce []byte, err error) {
	// nonce
	nonce = make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	// encrypting
	ciphertext = aesgcm.Seal(nil, nonce, plaintext, aad)

	return ciphertext, nonce, nil
}

func open(ciphertext, nonce, key, aad []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aesgcm.Open(nil, nonce, ciphertext, aad)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
