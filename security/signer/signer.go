// Package signer implements Ed25519 signing of plugin release metadata.
//
// A release signature covers the plugin's content digest concatenated with
// its declared version, so a signature cannot be replayed against a
// different build or a re-versioned artifact. Verification only ever
// succeeds against an explicit allow-list of public keys.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// PublicKey is a labeled Ed25519 verification key.
type PublicKey struct {
	Label string
	Key   ed25519.PublicKey
}

// KeyPair holds a freshly generated signing key pair in hex form.
type KeyPair struct {
	PublicHex  string
	PrivateHex string
}

// GenerateKeyPair creates a new Ed25519 key pair for release signing.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signer: generate key: %w", err)
	}
	return &KeyPair{
		PublicHex:  hex.EncodeToString(pub),
		PrivateHex: hex.EncodeToString(priv),
	}, nil
}

// ParsePublicKey decodes a hex encoded Ed25519 public key.
func ParsePublicKey(label, hexKey string) (PublicKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return PublicKey{}, fmt.Errorf("signer: public key %s: %w", label, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("signer: public key %s: got %d bytes, want %d", label, len(raw), ed25519.PublicKeySize)
	}
	return PublicKey{Label: label, Key: ed25519.PublicKey(raw)}, nil
}

// ParsePrivateKey decodes a hex encoded Ed25519 private key. Both the
// 64-byte expanded form and the 32-byte seed form are accepted.
func ParsePrivateKey(hexKey string) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signer: private key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("signer: private key: got %d bytes, want %d or %d", len(raw), ed25519.PrivateKeySize, ed25519.SeedSize)
	}
}

// Message builds the byte sequence a release signature covers: the content
// digest followed by the declared version, with no separator.
func Message(contentHash, version string) []byte {
	msg := make([]byte, 0, len(contentHash)+len(version))
	msg = append(msg, contentHash...)
	msg = append(msg, version...)
	return msg
}

// Sign produces a hex encoded signature over Message(contentHash, version).
func Sign(priv ed25519.PrivateKey, contentHash, version string) string {
	return hex.EncodeToString(ed25519.Sign(priv, Message(contentHash, version)))
}

// VerifyWithKeys checks sigHex over Message(contentHash, version) against
// each key in keys. It returns the label of the first key that verifies,
// or ok=false when no key matches or the signature is malformed.
func VerifyWithKeys(contentHash, version, sigHex string, keys []PublicKey) (label string, ok bool) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return "", false
	}
	msg := Message(contentHash, version)
	for _, pk := range keys {
		if len(pk.Key) != ed25519.PublicKeySize {
			continue
		}
		if ed25519.Verify(pk.Key, msg, sig) {
			return pk.Label, true
		}
	}
	return "", false
}
