package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orbisys/warden/security/hasher"
	"github.com/orbisys/warden/security/signer"
	"github.com/orbisys/warden/trust"
)

// NewTrustCommand creates the trust store management command
func NewTrustCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Manage the sealed trust store",
	}

	cmd.AddCommand(
		newTrustAddCommand(),
		newTrustListCommand(),
		newTrustRemoveCommand(),
	)
	return cmd
}

func newTrustAddCommand() *cobra.Command {
	var (
		storePath       string
		passphrase      string
		declaredVersion string
		keyHex          string
		note            string
	)

	cmd := &cobra.Command{
		Use:   "add <module.so>",
		Short: "Hash, sign and pin a module in the trust store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := resolvePassphrase(passphrase)
			if err != nil {
				return err
			}
			priv, err := resolveSigningKey(keyHex)
			if err != nil {
				return err
			}
			store, err := trust.Load(resolveStorePath(storePath), pass)
			if err != nil {
				return err
			}

			hash, err := hasher.File(args[0])
			if err != nil {
				return err
			}
			err = store.Add(trust.Entry{
				ContentHash:     hash,
				DeclaredVersion: declaredVersion,
				Signature:       signer.Sign(priv, hash, declaredVersion),
				Note:            note,
			})
			if err != nil {
				return err
			}
			if err := store.Save(); err != nil {
				return err
			}
			fmt.Printf("pinned %s version %s (hash %.12s...)\n", filepath.Base(args[0]), declaredVersion, hash)
			return nil
		},
	}

	storeFlags(cmd, &storePath, &passphrase)
	cmd.Flags().StringVarP(&declaredVersion, "version", "v", "", "module version the signature covers")
	cmd.Flags().StringVarP(&keyHex, "key", "k", "", "private signing key hex (defaults to WARDEN_SIGNING_KEY)")
	cmd.Flags().StringVarP(&note, "note", "n", "", "operator note stored with the entry")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newTrustListCommand() *cobra.Command {
	var storePath string
	var passphrase string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pinned modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := resolvePassphrase(passphrase)
			if err != nil {
				return err
			}
			store, err := trust.Load(resolveStorePath(storePath), pass)
			if err != nil {
				return err
			}

			entries := store.Entries()
			if len(entries) == 0 {
				fmt.Println("trust store is empty")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%.12s...  version %-12s  added %s", e.ContentHash, e.DeclaredVersion, e.AddedAt.Format("2006-01-02"))
				if e.Note != "" {
					fmt.Printf("  (%s)", e.Note)
				}
				fmt.Println()
			}
			return nil
		},
	}

	storeFlags(cmd, &storePath, &passphrase)
	return cmd
}

func newTrustRemoveCommand() *cobra.Command {
	var storePath string
	var passphrase string

	cmd := &cobra.Command{
		Use:   "remove <hash-prefix>",
		Short: "Unpin a module by content hash",
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

			prefix := strings.ToLower(args[0])
			var matches []string
			for _, e := range store.Entries() {
				if strings.HasPrefix(e.ContentHash, prefix) {
					matches = append(matches, e.ContentHash)
				}
			}
			switch len(matches) {
			case 0:
				return fmt.Errorf("no pinned module matches %q", args[0])
			case 1:
			default:
				return fmt.Errorf("%q matches %d entries, give more of the hash", args[0], len(matches))
			}

			store.Remove(matches[0])
			if err := store.Save(); err != nil {
				return err
			}
			fmt.Printf("removed %.12s...\n", matches[0])
			return nil
		},
	}

	storeFlags(cmd, &storePath, &passphrase)
	return cmd
}
