package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultkeeper/backup/keymaterial"
)

var (
	keygenPrivatePath string
	keygenPublicPath  string
)

func init() {
	KeygenCmd.Flags().StringVar(&keygenPrivatePath, "private", "", "path to write the new private key (required)")
	KeygenCmd.Flags().StringVar(&keygenPublicPath, "public", "", "path to write the new public key (required)")
	KeygenCmd.MarkFlagRequired("private")
	KeygenCmd.MarkFlagRequired("public")
}

// KeygenCmd generates the RSA key pair a backup set uses for envelope
// encryption. The private key should only be copied to hosts that need
// to restore; a backup-only host needs just the public key.
var KeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "`keygen` generates an RSA key pair for envelope encryption",
	Long:  "`keygen` generates a 4096-bit RSA key pair and writes the private and public halves to separate files.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		priv, err := keymaterial.GenerateRSA4096()
		if err != nil {
			fatalf("key generation failed: %v", err)
		}
		if err := keymaterial.SavePrivateKey(keygenPrivatePath, priv); err != nil {
			fatalf("failed to save private key: %v", err)
		}
		if err := keymaterial.SavePublicKey(keygenPublicPath, &priv.PublicKey); err != nil {
			fatalf("failed to save public key: %v", err)
		}
		fmt.Fprintf(os.Stdout, "wrote %s and %s\n", keygenPrivatePath, keygenPublicPath)
	},
}
