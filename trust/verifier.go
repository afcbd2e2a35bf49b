package trust

import (
	"context"

	"github.com/orbisys/warden/logging/logger"
	"github.com/orbisys/warden/security/hasher"
	"github.com/orbisys/warden/security/signer"
)

// Level classifies a plugin artifact after verification.
type Level string

const (
	// LevelTrusted means the digest is pinned and its signature verified.
	LevelTrusted Level = "trusted"
	// LevelUntrusted means at least one check failed. Untrusted is the
	// default for anything the verifier has not positively cleared.
	LevelUntrusted Level = "untrusted"
)

// Verdict is the outcome of verifying one artifact.
type Verdict struct {
	Level Level
	// Hash is the artifact's content digest, set whenever the file was
	// readable, including for untrusted outcomes.
	Hash string
	// Entry is the matching store entry, nil when the digest is not pinned.
	Entry *Entry
	// KeyLabel names the pinned key that verified the signature.
	KeyLabel string
	// Reason explains an untrusted outcome for the audit log.
	Reason string
}

// Trusted reports whether the artifact cleared every check.
func (vd *Verdict) Trusted() bool { return vd.Level == LevelTrusted }

// VersionMatches reports whether a version the plugin declares about itself
// agrees with the version its release signature covers. It is false for
// untrusted verdicts.
func (vd *Verdict) VersionMatches(reported string) bool {
	return vd.Entry != nil && vd.Entry.DeclaredVersion == reported
}

// Verifier checks plugin artifacts against the store and the pinned keys.
type Verifier struct {
	store *Store
	keys  []signer.PublicKey
}

// Option adjusts a Verifier at construction.
type Option func(*Verifier)

// WithKeys replaces the compiled-in verification keys.
func WithKeys(keys []signer.PublicKey) Option {
	return func(v *Verifier) { v.keys = keys }
}

// NewVerifier builds a Verifier over the given store using the compiled-in
// keys unless overridden.
func NewVerifier(store *Store, opts ...Option) *Verifier {
	v := &Verifier{store: store, keys: PinnedKeys()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify classifies the artifact at path. The error return is reserved for
// environmental failures (unreadable file); every verification failure is
// reported as an untrusted Verdict with a reason, never as an error.
func (v *Verifier) Verify(ctx context.Context, path string) (*Verdict, error) {
	hash, err := hasher.File(path)
	if err != nil {
		return nil, err
	}

	entry, ok := v.store.Find(hash)
	if !ok {
		logger.Infof(ctx, "verify %s: digest %s not in trust store", path, shortHash(hash))
		return &Verdict{Level: LevelUntrusted, Hash: hash, Reason: "content hash not in trust store"}, nil
	}

	label, ok := signer.VerifyWithKeys(entry.ContentHash, entry.DeclaredVersion, entry.Signature, v.keys)
	if !ok {
		logger.Warnf(ctx, "verify %s: digest %s pinned but signature did not verify", path, shortHash(hash))
		return &Verdict{
			Level:  LevelUntrusted,
			Hash:   hash,
			Entry:  &entry,
			Reason: "signature did not verify against any pinned key",
		}, nil
	}

	logger.Debugf(ctx, "verify %s: trusted, version %s, key %s", path, entry.DeclaredVersion, label)
	return &Verdict{Level: LevelTrusted, Hash: hash, Entry: &entry, KeyLabel: label}, nil
}
