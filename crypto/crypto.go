// Package crypto provides passphrase based authenticated encryption for
// data the runtime persists to disk.
//
// Keys are derived with Argon2id and payloads are sealed with
// XChaCha20-Poly1305. A sealed blob is self-describing:
//
//	magic || format || argon2id params || salt || nonce || ciphertext
//
// so Open needs only the blob and the passphrase. Any tampering,
// truncation, or wrong passphrase fails authentication and yields no
// plaintext.
package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	formatV1 = 0x01
	saltSize = 16

	// Argon2id defaults used by Seal. Open reads the parameters back from
	// the blob header, so these can change without a format break.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4

	// Upper bounds Open accepts from a header. A forged header must not be
	// able to turn key derivation into a memory or CPU bomb.
	maxArgonTime    = 16
	maxArgonMemory  = 512 * 1024
	maxArgonThreads = 16
)

var magic = []byte("WARD")

// headerSize covers magic, format byte, time, memory, and threads.
const headerSize = 4 + 1 + 4 + 4 + 1

// ErrMalformed reports a blob that is not a sealed payload: wrong magic,
// unknown format, implausible parameters, or truncation.
var ErrMalformed = errors.New("crypto: sealed blob malformed")

// ErrDecrypt reports failed authentication: wrong passphrase or a
// modified blob. The two cases are indistinguishable on purpose.
var ErrDecrypt = errors.New("crypto: decryption failed")

// DeriveKey stretches passphrase into an AEAD key using Argon2id.
func DeriveKey(passphrase string, salt []byte, time, memory uint32, threads uint8) []byte {
	return argon2.IDKey([]byte(passphrase), salt, time, memory, threads, chacha20poly1305.KeySize)
}

// Seal encrypts plaintext under passphrase. Salt and nonce are freshly
// drawn for every call, so sealing the same plaintext twice yields
// different blobs.
func Seal(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}

	key := DeriveKey(passphrase, salt, argonTime, argonMemory, argonThreads)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	blob := make([]byte, 0, headerSize+saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	blob = append(blob, magic...)
	blob = append(blob, formatV1)
	blob = binary.BigEndian.AppendUint32(blob, argonTime)
	blob = binary.BigEndian.AppendUint32(blob, argonMemory)
	blob = append(blob, argonThreads)
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	return aead.Seal(blob, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts a blob produced by Seal. It returns
// ErrMalformed when the blob cannot be parsed and ErrDecrypt when
// authentication fails.
func Open(blob []byte, passphrase string) ([]byte, error) {
	minLen := headerSize + saltSize + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(blob) < minLen {
		return nil, ErrMalformed
	}
	if !bytes.Equal(blob[:4], magic) || blob[4] != formatV1 {
		return nil, ErrMalformed
	}
	time := binary.BigEndian.Uint32(blob[5:9])
	memory := binary.BigEndian.Uint32(blob[9:13])
	threads := blob[13]
	if time == 0 || time > maxArgonTime || memory == 0 || memory > maxArgonMemory ||
		threads == 0 || threads > maxArgonThreads {
		return nil, ErrMalformed
	}

	rest := blob[headerSize:]
	salt := rest[:saltSize]
	nonce := rest[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	ciphertext := rest[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(DeriveKey(passphrase, salt, time, memory, threads))
	if err != nil {
		return nil, fmt.Errorf("crypto: aead: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
