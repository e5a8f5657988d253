package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mordris/ledgerwatch/internal/ledger"
	"github.com/mordris/ledgerwatch/internal/render"
	"github.com/mordris/ledgerwatch/pkg/models"
)

func newBalanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [public-key]",
		Short: "Show the balance of a public key, or of the active key pair",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			} else {
				store, err := a.openWallet()
				if err != nil {
					return err
				}
				kp, ok := store.Current()
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), render.FormatOwnBalance(models.SentinelBalance(models.BalanceNoKeys)))
					return nil
				}
				key = kp.PublicKey
			}

			value, err := a.ledger.Balance(cmd.Context(), key)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), render.FormatOwnBalance(models.SentinelBalance(models.BalanceError)))
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.FormatOwnBalance(models.NumericBalance(value)))
			return nil
		},
	}
}

func newDirectoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "directory",
		Aliases: []string{"users"},
		Short:   "List the named users known to the service and their balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := a.ledger.Directory(cmd.Context())
			if err != nil {
				return err
			}
			render.WriteDirectory(cmd.OutOrStdout(), users)
			return nil
		},
	}
}

func newSendCmd(a *app) *cobra.Command {
	form := &ledger.Transfer{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Sign a transfer with the active key pair and add it to the pending pool",
		Example: `  ledgerwatch send --to "$(cat bob.pub)" --amount 12.5`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openWallet()
			if err != nil {
				return err
			}
			kp, _ := store.Current()
			form.Sender = kp.PublicKey
			if _, err := a.ledger.SubmitTransfer(cmd.Context(), kp, form); err != nil {
				return reported{err}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&form.Recipient, "to", "", "Recipient public key")
	cmd.Flags().StringVar(&form.Amount, "amount", "", "Amount to send (> 0)")
	return cmd
}

func newCreateCmd(a *app) *cobra.Command {
	var difficulty, reward string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Replace the service's ledger with a new one",
		Example: `  ledgerwatch create --difficulty 3 --reward 50`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := a.ledger.CreateLedger(cmd.Context(), difficulty, reward)
			if err != nil {
				return reported{err}
			}
			if msg == "" {
				msg = "Blockchain created."
			}
			a.console.Notify(msg, false)
			return nil
		},
	}
	cmd.Flags().StringVar(&difficulty, "difficulty", "2", "Proof-of-work difficulty (1-6)")
	cmd.Flags().StringVar(&reward, "reward", "100", "Mining reward (> 0)")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Ask the service to validate its chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.validate(cmd.Context())
		},
	}
}

func (a *app) validate(ctx context.Context) error {
	valid, err := a.ledger.Validate(ctx)
	if err != nil {
		a.console.Notify("Could not get validation status from server.", true)
		return reported{err}
	}
	if valid {
		a.console.Notify("Blockchain is VALID", false)
		return nil
	}
	a.console.Notify("Blockchain is INVALID!", true)
	return reported{errChainInvalid}
}

func newSaveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Ask the service to persist its chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.save(cmd.Context())
		},
	}
}

func (a *app) save(ctx context.Context) error {
	msg, err := a.ledger.Save(ctx)
	if err != nil {
		return reported{err}
	}
	if msg == "" {
		msg = "Blockchain saved."
	}
	a.console.Notify(msg, false)
	return nil
}
