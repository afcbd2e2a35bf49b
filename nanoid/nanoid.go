// Package nanoid generates the short random identifiers stamped on wire
// messages. The alphabet stays alphanumeric so ids read cleanly in logs
// and socket traces.
package nanoid

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// String returns a mixed-case alphanumeric id of the given length.
func String(size int) string {
	return gonanoid.MustGenerate(alphabet, size)
}
