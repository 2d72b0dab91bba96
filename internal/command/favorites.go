package command

import (
	"strings"

	"github.com/spf13/cobra"
)

func NewFavoritesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "favorites",
		Aliases: []string{"faves"},
		Short:   "Inspect locally saved favorites",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List favorites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			field, _ := cmd.Flags().GetString("sort")
			order, _ := cmd.Flags().GetString("order")
			return listFavorites(cmd, "", field, order)
		},
	}
	list.Flags().String("sort", "savedAt", "sort field: savedAt, createdAt, name, description, id")
	list.Flags().String("order", "desc", "sort order: asc or desc")

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Search favorites by name or description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listFavorites(cmd, strings.Join(args, " "), "", "")
		},
	}

	cmd.AddCommand(list, search)
	return cmd
}

func listFavorites(cmd *cobra.Command, query, field, order string) error {
	app, err := buildApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	favs, err := app.Service.Favorites(cmd.Context(), query, field, order)
	if err != nil {
		return err
	}
	if jsonMode(cmd) {
		return writeJSON(cmd.OutOrStdout(), favs)
	}
	renderFavorites(cmd.OutOrStdout(), favs)
	return nil
}
