package client

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/mwantia/lakesync/internal/agent"
	"github.com/mwantia/lakesync/pkg/lock"
	"github.com/mwantia/lakesync/pkg/log"
	"github.com/spf13/cobra"

	config "github.com/mwantia/lakesync/internal/config/server"
)

func NewCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and maintain the file catalog",
		Long:  "Inspect and maintain the file catalog directly against the configured metadata database, without a running agent.",
	}

	cmd.AddCommand(NewAccountsCommand())
	cmd.AddCommand(NewSourcesCommand())
	cmd.AddCommand(NewCatalogListCommand())
	cmd.AddCommand(NewCatalogRebuildCommand())
	cmd.AddCommand(NewCatalogRemoveCommand())
	cmd.AddCommand(NewCatalogRunsCommand())
	cmd.AddCommand(NewCatalogSchemaCommand())

	return cmd
}

// session bundles the components opened for a single command invocation.
type session struct {
	cfg        *config.BaseServerConfig
	components *agent.Components
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load server configuration: %w", err)
	}

	catalog, err := agent.OpenCatalog(ctx, cfg.Metadata)
	if err != nil {
		return nil, err
	}
	locker, err := agent.OpenLocker(ctx, cfg.Lock)
	if err != nil {
		catalog.Close()
		return nil, err
	}

	logger := log.NewLoggerService("cli", cfg.Log)
	refresher := agent.NewRefresher(cfg, catalog, logger.Named("refresh"))
	return &session{
		cfg:        cfg,
		components: agent.NewComponents(cfg, catalog, locker, refresher, logger),
	}, nil
}

func (s *session) Close(ctx context.Context) error {
	if closer, ok := s.components.Locker.(*lock.RedisLocker); ok {
		closer.Cleanup(ctx)
	}
	return s.components.Catalog.Cleanup(ctx)
}

// withSession opens the catalog for the duration of fn.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close(context.WithoutCancel(ctx))

	return fn(ctx, s)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func NewCatalogSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Show the catalog schema migrations",
		Long:  "Shows every schema migration known to this build and when it was applied. Opening the catalog applies pending ones.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				statuses, err := s.components.Catalog.SchemaStatus(ctx)
				if err != nil {
					return fmt.Errorf("failed to read schema status: %w", err)
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "VERSION\tDESCRIPTION\tAPPLIED")
				for _, status := range statuses {
					applied := "pending"
					if status.Applied {
						applied = formatTime(status.AppliedAt, true)
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\n", status.Version, status.Description, applied)
				}
				return tw.Flush()
			})
		},
	}
}
