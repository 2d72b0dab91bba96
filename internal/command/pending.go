package command

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func NewPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect stories saved while offline",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List pending stories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			app, err := buildApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			items, err := app.Service.PendingStories(cmd.Context(), !all)
			if err != nil {
				return err
			}
			// photos are large and only useful to the sync
			for i := range items {
				items[i].Photo = nil
			}
			if jsonMode(cmd) {
				return writeJSON(cmd.OutOrStdout(), items)
			}
			renderPending(cmd.OutOrStdout(), items)
			return nil
		},
	}
	list.Flags().Bool("all", false, "include stories that already synced")

	count := &cobra.Command{
		Use:   "count",
		Short: "Print the number of unsynced stories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			n, err := app.Sync.GetUnsyncedCount(cmd.Context())
			if err != nil {
				return err
			}
			if jsonMode(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]int{"unsynced": n})
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <temp-id>",
		Short: "Discard a pending story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid temp id %q", args[0])
			}
			app, err := buildApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Service.DeletePending(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted #%d\n", id)
			return nil
		},
	}

	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stories that already synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			n, err := app.Service.CleanupSynced(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d synced stories\n", n)
			return nil
		},
	}

	cmd.AddCommand(list, count, del, cleanup)
	return cmd
}
