package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orbisys/warden/security/hasher"
	"github.com/orbisys/warden/security/signer"
	"github.com/orbisys/warden/trust"
)

// NewKeygenCommand creates the keygen command
func NewKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 release signing key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := signer.GenerateKeyPair()
			if err != nil {
				return err
			}
			fmt.Println("public: ", kp.PublicHex)
			fmt.Println("private:", kp.PrivateHex)
			fmt.Println()
			fmt.Println("Pin the public key in trust/keys.go; keep the private key offline.")
			return nil
		},
	}
}

// NewSignCommand creates the sign command
func NewSignCommand() *cobra.Command {
	var declaredVersion string
	var keyHex string

	cmd := &cobra.Command{
		Use:   "sign <module.so>",
		Short: "Sign a module artifact for release",
		Long: "sign hashes the module and signs hash together with the declared version,\n" +
			"printing the signature a trust entry carries.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := resolveSigningKey(keyHex)
			if err != nil {
				return err
			}
			hash, err := hasher.File(args[0])
			if err != nil {
				return err
			}
			fmt.Println("hash:     ", hash)
			fmt.Println("version:  ", declaredVersion)
			fmt.Println("signature:", signer.Sign(priv, hash, declaredVersion))
			return nil
		},
	}

	cmd.Flags().StringVarP(&declaredVersion, "version", "v", "", "module version the signature covers")
	cmd.Flags().StringVarP(&keyHex, "key", "k", "", "private signing key hex (defaults to WARDEN_SIGNING_KEY)")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

// NewVerifyCommand creates the verify command
func NewVerifyCommand() *cobra.Command {
	var storePath string
	var passphrase string
	var keyHex string

	cmd := &cobra.Command{
		Use:   "verify <module.so>",
		Short: "Verify a module against the trust store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := resolvePassphrase(passphrase)
			if err != nil {
				return err
			}
			store, err := trust.Load(resolveStorePath(storePath), pass)
			if err != nil {
				return err
			}

			opts := []trust.Option{}
			if keyHex != "" {
				pub, err := signer.ParsePublicKey("operator", keyHex)
				if err != nil {
					return err
				}
				opts = append(opts, trust.WithKeys([]signer.PublicKey{pub}))
			}

			verdict, err := trust.NewVerifier(store, opts...).Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Println("level:", verdict.Level)
			fmt.Println("hash: ", verdict.Hash)
			if verdict.Trusted() {
				fmt.Println("key:  ", verdict.KeyLabel)
				fmt.Println("pinned version:", verdict.Entry.DeclaredVersion)
				return nil
			}
			return fmt.Errorf("module is not trusted: %s", verdict.Reason)
		},
	}

	storeFlags(cmd, &storePath, &passphrase)
	cmd.Flags().StringVarP(&keyHex, "key", "k", "", "verify against this public key instead of the pinned set")
	return cmd
}
