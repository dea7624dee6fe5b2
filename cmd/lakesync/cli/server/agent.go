package server

import (
	"fmt"

	"github.com/mwantia/lakesync/internal/agent"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	config "github.com/mwantia/lakesync/internal/config/server"
)

func NewAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Start the LakeSync Agent",
		Long: `Start the LakeSync Agent.

The agent opens the catalog, serves the rebuild API and periodically
reconciles every account with its bucket until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return fmt.Errorf("failed to load server configuration: %w", err)
			}

			return agent.NewAgent(cfg).Serve(cmd.Context())
		},
	}

	cmd.Flags().String("listen", "", "override http.address")
	cmd.Flags().String("rebuild-interval", "", "override rebuild.interval, e.g. 15m")
	viper.BindPFlag("http.address", cmd.Flags().Lookup("listen"))
	viper.BindPFlag("rebuild.interval", cmd.Flags().Lookup("rebuild-interval"))

	return cmd
}
