package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Trust trust store config struct
type Trust struct {
	StorePath   string // sealed trust store blob location
	OnlyTrusted bool   // refuse untrusted plugins regardless of caller intent
	Passphrase  string // sealing passphrase, normally from WARDEN_TRUST_PASSPHRASE
}

// getTrustConfig returns the trust config
func getTrustConfig(v *viper.Viper) *Trust {
	return &Trust{
		StorePath:   getStringOrDefault(v, "trust.store_path", "trust_store.sealed"),
		OnlyTrusted: getBoolOrDefault(v, "trust.only_trusted", true),
		Passphrase:  v.GetString("trust.passphrase"),
	}
}

// Validate checks the trust section.
func (t *Trust) Validate() error {
	if t.StorePath == "" {
		return fmt.Errorf("trust store path must not be empty")
	}
	return nil
}
