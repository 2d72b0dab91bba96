package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "story-service"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Offline-first gateway for the story app",
		Long:          "story-service keeps favorites and pending stories locally, syncs them with the story API and intercepts app traffic with cache fallbacks.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "", "path to config.toml")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")

	cmd.AddCommand(
		NewServeCmd(),
		NewSyncCmd(),
		NewFavoritesCmd(),
		NewPendingCmd(),
	)
	return cmd
}

func Execute() error {
	return NewRootCmd(Version).Execute()
}
