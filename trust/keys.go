package trust

import "github.com/orbisys/warden/security/signer"

// Release verification keys compiled into the binary. Signatures in the
// trust store must verify against one of these. Rotations add the new key
// here before any artifact is signed with it; retired keys are removed in
// the release after their last signed artifact leaves support.
const (
	releaseKey2026 = "edeee05b25556db8d622f6819ad60134c33cf96e6b58e19537581c97d073c077"
	reserveKey2026 = "466ecfc72365e25915821b229b5928673f6a0593f0ee8c634d145ac20b4501a9"
)

var pinnedKeys = []signer.PublicKey{
	mustKey("release-2026", releaseKey2026),
	mustKey("reserve-2026", reserveKey2026),
}

// PinnedKeys returns the compiled-in verification keys.
func PinnedKeys() []signer.PublicKey {
	out := make([]signer.PublicKey, len(pinnedKeys))
	copy(out, pinnedKeys)
	return out
}

func mustKey(label, hexKey string) signer.PublicKey {
	pk, err := signer.ParsePublicKey(label, hexKey)
	if err != nil {
		panic("trust: bad compiled-in key " + label + ": " + err.Error())
	}
	return pk
}
