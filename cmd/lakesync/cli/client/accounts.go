package client

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mwantia/lakesync/pkg/db/models"
	"github.com/spf13/cobra"
)

func NewAccountsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage catalog accounts",
		Long:  "Manage the accounts whose buckets are mirrored into the catalog.",
	}

	cmd.AddCommand(NewAccountsAddCommand())
	cmd.AddCommand(NewAccountsListCommand())
	cmd.AddCommand(NewAccountsRemoveCommand())

	return cmd
}

func NewAccountsAddCommand() *cobra.Command {
	var account models.Account

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register an account",
		Long:  "Registers a new account together with the bucket and the credentials used to read it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account.Name = args[0]
			if account.ID == "" {
				account.ID = uuid.NewString()
			}

			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.components.Catalog.CreateAccount(ctx, &account); err != nil {
					return fmt.Errorf("failed to create account: %w", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Created account %s (%s)\n", account.Name, account.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&account.ID, "id", "", "account id (default is a random uuid)")
	cmd.Flags().StringVar(&account.Bucket, "bucket", "", "bucket owned by the account")
	cmd.Flags().StringVar(&account.Region, "region", "", "bucket region")
	cmd.Flags().StringVar(&account.AccessKey, "access-key", "", "access key used to read the bucket")
	cmd.Flags().StringVar(&account.SecretKey, "secret-key", "", "secret key used to read the bucket")

	cmd.MarkFlagRequired("bucket")

	return cmd
}

func NewAccountsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List accounts",
		Long:  "Lists every account together with its bucket and usage counters.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				accounts, err := s.components.Catalog.ListAccounts(ctx)
				if err != nil {
					return fmt.Errorf("failed to list accounts: %w", err)
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tNAME\tBUCKET\tCREDENTIALS\tUPLOADS\tREFRESHES\tPINGS\tCREATED")
				for _, a := range accounts {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%d\t%d\t%s\n",
						a.ID, a.Name, a.Bucket, a.HasCredentials(),
						a.UploadCount, a.RefreshCount, a.PingCount,
						humanize.Time(a.CreatedAt))
				}
				return tw.Flush()
			})
		},
	}

	return cmd
}

func NewAccountsRemoveCommand() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "rm <account>",
		Short: "Remove an account",
		Long:  "Removes an account with all of its catalog files and sources. The bucket itself is left untouched.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to remove account '%s' without --confirm", args[0])
			}

			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.components.Catalog.DeleteAccount(ctx, args[0]); err != nil {
					return fmt.Errorf("failed to remove account: %w", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Removed account %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the removal")

	return cmd
}
