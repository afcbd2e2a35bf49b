// Package hasher computes content digests for plugin artifacts.
//
// All identity checks in the trust layer key off the SHA3-512 digest of
// the plugin file, rendered as lowercase hex. The digest is computed over
// the raw file bytes, never over metadata, so a rebuilt artifact with
// identical bytes keeps its identity.
package hasher

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/sha3"
)

// DigestHexLen is the length of a rendered digest (SHA3-512, hex encoded).
const DigestHexLen = 128

// Bytes returns the lowercase hex SHA3-512 digest of data.
func Bytes(data []byte) string {
	sum := sha3.Sum512(data)
	return hex.EncodeToString(sum[:])
}

// File returns the lowercase hex SHA3-512 digest of the file at path.
// The file is streamed, not loaded into memory.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hasher: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha3.New512()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hasher: read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Valid reports whether s looks like a rendered digest.
func Valid(s string) bool {
	if len(s) != DigestHexLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
