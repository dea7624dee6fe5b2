package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/lakesync/pkg/db/models"
	"github.com/spf13/cobra"
)

func NewSourcesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage CSV sources",
		Long:  "Manage the sources grouping an account's CSV files by directory filter.",
	}

	cmd.AddCommand(NewSourcesAddCommand())
	cmd.AddCommand(NewSourcesListCommand())

	return cmd
}

func NewSourcesAddCommand() *cobra.Command {
	var source models.Source
	var columns []string

	cmd := &cobra.Command{
		Use:   "add <account> <name>",
		Short: "Create a source",
		Long:  "Creates a source selecting the CSV files below a directory filter. New sources start out dirty.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source.AccountID = args[0]
			source.Name = args[1]
			source.IncludeColumns = strings.Join(columns, ",")
			source.DoUpdate = true

			return withSession(cmd, func(ctx context.Context, s *session) error {
				if _, err := s.components.Catalog.GetAccount(ctx, source.AccountID); err != nil {
					return fmt.Errorf("failed to find account '%s': %w", source.AccountID, err)
				}
				if err := s.components.Catalog.CreateSource(ctx, &source); err != nil {
					return fmt.Errorf("failed to create source: %w", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Created source %s (%d)\n", source.Name, source.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&source.DirectoryFilter, "filter", "*", "directory filter, '*' selects the bucket root")
	cmd.Flags().BoolVar(&source.IncludeSubdirs, "subdirs", false, "include files in subdirectories")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "columns to aggregate (default is all)")
	cmd.Flags().IntVar(&source.DataPoints, "data-points", 0, "number of data points to keep")
	cmd.Flags().BoolVar(&source.TailOnly, "tail-only", false, "only aggregate the tail of each file")

	return cmd
}

func NewSourcesListCommand() *cobra.Command {
	var dirtyOnly bool

	cmd := &cobra.Command{
		Use:   "ls <account>",
		Short: "List sources",
		Long:  "Lists the sources of an account with their aggregation state.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				var (
					sources []models.Source
					err     error
				)
				if dirtyOnly {
					sources, err = s.components.Catalog.ListDirtySources(ctx, args[0])
				} else {
					sources, err = s.components.Catalog.ListSources(ctx, args[0])
				}
				if err != nil {
					return fmt.Errorf("failed to list sources: %w", err)
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tNAME\tFILTER\tSUBDIRS\tSTATE\tDIRTY\tLEVEL\tUPDATED\tERROR")
				for _, src := range sources {
					updated := "never"
					if src.LastUpdated != nil {
						updated = humanize.Time(*src.LastUpdated)
					}
					msg := ""
					if src.Error != nil {
						msg = *src.Error
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%t\t%d\t%s\t%s\n",
						src.ID, src.Name, src.DirectoryFilter, src.IncludeSubdirs,
						src.State, src.DoUpdate, src.MaxPathLevel, updated, msg)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&dirtyOnly, "dirty", false, "only list sources flagged for re-aggregation")

	return cmd
}
