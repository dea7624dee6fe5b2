package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewRootCommand(info VersionInfo) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "lakesync",
		Short: "LakeSync S3 Catalog Agent",
		Long: `LakeSync keeps a relational catalog of S3 data lake objects in line
with their buckets and flags the CSV sources that need to be re-aggregated.

Run "lakesync agent" for the long-running service, or "lakesync catalog"
to inspect and rebuild the catalog directly.`,
		Version:       info.String(),
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(path)
		},
	}

	cmd.SetVersionTemplate("lakesync {{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&path, "config", "", "config file (default searches ./config.yaml, ./config, /etc/lakesync)")
	flags.Bool("no-color", false, "Disables colored command output")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("log.no_color", flags.Lookup("no-color"))

	return cmd
}
