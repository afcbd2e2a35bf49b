package trust

// SecurityPolicy fixes the trust posture for the lifetime of the process.
// It is read at construction and never mutated afterwards.
type SecurityPolicy struct {
	// OnlyTrusted refuses to load any plugin that does not verify. When
	// false, unverified plugins are still recorded as untrusted and loaded
	// at the operator's risk.
	OnlyTrusted bool

	// TrustStorePath is the sealed store location.
	TrustStorePath string
}

// DefaultPolicy trusts nothing that is not pinned.
func DefaultPolicy() SecurityPolicy {
	return SecurityPolicy{
		OnlyTrusted:    true,
		TrustStorePath: "trust_store.sealed",
	}
}
