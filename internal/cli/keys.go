package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mordris/ledgerwatch/pkg/errs"
)

func newKeysCmd(a *app) *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage the local key pair",
	}

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new key pair, store it and request the welcome bonus",
		Example: `  ledgerwatch keys generate
  ledgerwatch keys generate --wallet ./alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openWallet()
			if err != nil {
				return err
			}
			kp, err := store.Generate(cmd.Context(), a.ledger)
			if kp.Valid() {
				fmt.Fprintf(cmd.OutOrStdout(), "Public key:\n%s\n", kp.PublicKey)
			}
			if err != nil {
				return reported{err}
			}
			return nil
		},
	}

	var private bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the active public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openWallet()
			if err != nil {
				return err
			}
			kp, ok := store.Current()
			if !ok {
				return errs.New(errs.NotAuthenticated, "show-keys",
					"No keys loaded. Run 'ledgerwatch keys generate' first.")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Public key:\n%s\n", kp.PublicKey)
			if private {
				fmt.Fprintf(out, "Private key:\n%s\n", kp.PrivateKey)
			}
			return nil
		},
	}
	show.Flags().BoolVar(&private, "private", false, "Also print the private key")

	keys.AddCommand(generate, show)
	return keys
}
