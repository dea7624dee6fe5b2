package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/lakesync/internal/rebuild"
	"github.com/mwantia/lakesync/pkg/db/models"
	"github.com/mwantia/lakesync/pkg/db/store"
	"github.com/mwantia/lakesync/pkg/objstore"
	"github.com/spf13/cobra"
)

func NewCatalogListCommand() *cobra.Command {
	var humanReadable bool
	var longFormat bool
	var all bool
	var limit int

	cmd := &cobra.Command{
		Use:   "ls <account> [prefix]",
		Short: "List catalog files",
		Long:  "Lists the catalog files of an account, optionally limited to a key prefix.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) > 1 {
				prefix = args[1]
			}

			return withSession(cmd, func(ctx context.Context, s *session) error {
				files, err := s.components.Catalog.ListFiles(ctx, args[0], store.FileFilter{
					Prefix:        prefix,
					IncludeHidden: all,
					Limit:         limit,
				})
				if err != nil {
					return fmt.Errorf("failed to list files: %w", err)
				}

				tw := newTable(cmd.OutOrStdout())
				if longFormat {
					fmt.Fprintln(tw, "SIZE\tVERSION\tMODIFIED\tCHECKED\tKEY")
				}
				for _, f := range files {
					size := strconv.FormatInt(f.Size, 10)
					if humanReadable {
						size = humanize.IBytes(uint64(f.Size))
					}
					if !longFormat {
						fmt.Fprintf(tw, "%s\t%s\n", size, f.Key)
						continue
					}
					fmt.Fprintf(tw, "%s\tv%d\t%s\t%s\t%s\n",
						size, f.Version,
						formatTime(f.LastModified, humanReadable),
						formatTime(f.LastChecked, humanReadable),
						f.Key)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVarP(&humanReadable, "human", "H", false, "Enable human-readable format")
	cmd.Flags().BoolVarP(&longFormat, "long", "l", false, "Display long format")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include hidden files")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of files to list")

	return cmd
}

func NewCatalogRebuildCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "rebuild [account]",
		Short: "Rebuild the catalog from the bucket",
		Long:  "Reconciles the catalog of an account, or of every account with --all, against the current bucket listing.",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if all {
					return s.components.Service.RebuildAll(ctx, rebuild.TriggerManual)
				}

				outcome, err := s.components.Service.Rebuild(ctx, args[0], rebuild.TriggerManual)
				if err != nil {
					return err
				}
				printOutcome(cmd.OutOrStdout(), args[0], outcome)
				if !outcome.Result.OK() {
					return fmt.Errorf("rebuild finished with status '%s'", outcome.Result.Status)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "rebuild every account")

	return cmd
}

func NewCatalogRemoveCommand() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "rm <account> <key>...",
		Short: "Delete files from the bucket and the catalog",
		Long:  "Deletes every version of the given keys from the bucket and drops their catalog records. Needs confirmation.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to delete %d file(s) without --confirm", len(args)-1)
			}

			return withSession(cmd, func(ctx context.Context, s *session) error {
				account, err := s.components.Catalog.GetAccount(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to find account '%s': %w", args[0], err)
				}

				creds := objstore.Credentials{
					AccessKey: s.cfg.Admin.AccessKey,
					SecretKey: s.cfg.Admin.SecretKey,
					Bucket:    account.Bucket,
					Region:    account.Region,
				}
				if creds.AccessKey == "" || creds.SecretKey == "" {
					creds.AccessKey, creds.SecretKey = account.AccessKey, account.SecretKey
				}

				files := make([]models.File, 0, len(args)-1)
				for _, key := range args[1:] {
					files = append(files, models.File{AccountID: account.ID, Key: key})
				}

				ok, err := s.components.Deleter.DeleteFiles(ctx, creds, account.ID, files)
				var partial *rebuild.PartialDeletionError
				switch {
				case errors.As(err, &partial):
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d of %d file(s)\n", partial.Deleted, partial.Total)
					return err
				case err != nil:
					return err
				case ok:
					fmt.Fprintln(cmd.OutOrStdout(), "Deleted all requested file(s)")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the deletion")

	return cmd
}

func NewCatalogRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs <account>",
		Short: "Show the rebuild history",
		Long:  "Shows the most recent rebuild runs of an account.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				runs, err := s.components.Catalog.ListRebuildRuns(ctx, args[0], limit)
				if err != nil {
					return fmt.Errorf("failed to list rebuild runs: %w", err)
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tTRIGGER\tSTATUS\tATTEMPTS\tCREATED\tUPDATED\tDELETED\tDIRTIED\tSTARTED\tDURATION\tERROR")
				for _, run := range runs {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\t%s\n",
						run.ID, run.Trigger, run.Status, run.Attempts,
						run.FilesCreated, run.FilesUpdated, run.FilesDeleted, run.SourcesDirtied,
						humanize.Time(run.StartedAt), run.CompletedAt.Sub(run.StartedAt), run.LastError)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")

	return cmd
}

func printOutcome(w io.Writer, accountID string, outcome *rebuild.Outcome) {
	res := outcome.Result
	fmt.Fprintf(w, "Rebuild of %s: %s after %d attempt(s)\n", accountID, res.Status, res.Attempts)
	if res.Err != nil {
		fmt.Fprintf(w, "  error: %v\n", res.Err)
	}
	if !res.OK() {
		return
	}

	fmt.Fprintf(w, "  created: %d, updated: %d, deleted: %d\n",
		res.Count(rebuild.ChangeCreated), res.Count(rebuild.ChangeUpdated), res.Count(rebuild.ChangeDeleted))
	fmt.Fprintf(w, "  sources dirtied: %d, refreshed: %d\n", outcome.Dirtied, outcome.Refreshed)
	for _, a := range res.Affected {
		fmt.Fprintf(w, "  %-8s %s\n", a.Change, a.File.Key)
	}
}

func formatTime(t time.Time, human bool) string {
	switch {
	case t.IsZero():
		return "-"
	case human:
		return humanize.Time(t)
	default:
		return t.UTC().Format(time.RFC3339)
	}
}
