package commands

import (
	"crypto/ed25519"
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/orbisys/warden/security/signer"
)

// v resolves settings from WARDEN_-prefixed environment variables so the
// secrets never have to appear on a command line.
var v = viper.New()

func init() {
	v.SetEnvPrefix("warden")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("trust.store_path", "trust_store.sealed")
}

// resolveStorePath returns the flag value when set, else
// WARDEN_TRUST_STORE_PATH, else the default store file.
func resolveStorePath(flag string) string {
	if flag != "" {
		return flag
	}
	return v.GetString("trust.store_path")
}

// resolvePassphrase returns the flag value when set, else
// WARDEN_TRUST_PASSPHRASE. The store never opens without one.
func resolvePassphrase(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if p := v.GetString("trust.passphrase"); p != "" {
		return p, nil
	}
	return "", errors.New("trust store passphrase required: pass --passphrase or set WARDEN_TRUST_PASSPHRASE")
}

// resolveSigningKey parses the private signing key from the flag or
// WARDEN_SIGNING_KEY.
func resolveSigningKey(flag string) (ed25519.PrivateKey, error) {
	hexKey := flag
	if hexKey == "" {
		hexKey = v.GetString("signing_key")
	}
	if hexKey == "" {
		return nil, errors.New("signing key required: pass --key or set WARDEN_SIGNING_KEY")
	}
	return signer.ParsePrivateKey(hexKey)
}

// storeFlags attaches the store location and passphrase flags shared by the
// trust subcommands.
func storeFlags(cmd *cobra.Command, storePath, passphrase *string) {
	cmd.Flags().StringVarP(storePath, "store", "s", "", "sealed trust store path (defaults to WARDEN_TRUST_STORE_PATH)")
	cmd.Flags().StringVarP(passphrase, "passphrase", "p", "", "sealing passphrase (defaults to WARDEN_TRUST_PASSPHRASE)")
}
