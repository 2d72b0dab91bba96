package command

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func NewSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay pending stories against the API once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			app.Monitor.Probe(cmd.Context())
			res := app.Sync.SyncOfflineStories(cmd.Context())

			if jsonMode(cmd) {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				fmt.Fprint(cmd.OutOrStdout(), renderSyncSummary(res))
			}
			if !res.Success {
				if res.Err != nil {
					return res.Err
				}
				return errors.New(res.Message)
			}
			return nil
		},
	}
}
