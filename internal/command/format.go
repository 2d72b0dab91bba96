package command

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nitesh/story_service/internal/offlinesync"
	"github.com/nitesh/story_service/pkg/models"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("111"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func jsonMode(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderSyncSummary(res offlinesync.Result) string {
	var b strings.Builder
	if !res.Success {
		b.WriteString(failStyle.Render("sync failed: " + res.Message))
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString(headerStyle.Render(res.Message))
	b.WriteString("\n")
	if res.Results.Total == 0 {
		return b.String()
	}
	b.WriteString(successStyle.Render(fmt.Sprintf("  synced  %d", res.Results.Synced)))
	b.WriteString("\n")
	if res.Results.Failed > 0 {
		b.WriteString(failStyle.Render(fmt.Sprintf("  failed  %d", res.Results.Failed)))
		b.WriteString("\n")
		for _, e := range res.Results.Errors {
			b.WriteString(dimStyle.Render(fmt.Sprintf("    #%d: %s", e.StoryID, e.Error)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderFavorites(w io.Writer, favs []models.FavoriteRecord) {
	if len(favs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no favorites"))
		return
	}
	for _, f := range favs {
		fmt.Fprintf(w, "%s  %s\n", headerStyle.Render(f.ID), truncate(f.Description, 60))
		fmt.Fprintf(w, "  %s\n", dimStyle.Render(fmt.Sprintf("by %s, saved %s", f.Name, f.SavedAt.String())))
	}
}

func renderPending(w io.Writer, items []models.PendingSubmission) {
	if len(items) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no pending stories"))
		return
	}
	for _, p := range items {
		state := failStyle.Render("pending")
		if p.Synced {
			state = successStyle.Render("synced ")
		}
		fmt.Fprintf(w, "#%-4d %s  %s  %s\n", p.TempID, state, dimStyle.Render(p.CreatedAt.String()), truncate(p.Description, 50))
	}
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
