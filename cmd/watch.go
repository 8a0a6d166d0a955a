package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marcus/gridsync/internal/syncconfig"
	"github.com/marcus/gridsync/internal/tui/grid"
)

var watchCmd = &cobra.Command{
	Use:   "watch [DATASET]",
	Short: "Scroll through a dataset with live updates",
	Long: `Open a live viewer on a dataset. Only the rows around the viewport are
fetched and kept in sync; edits to visible rows appear as they happen.

Key bindings:
  ↑/↓, j/k       Move selection
  PgUp/PgDn      Page
  g/G            First/last row
  :              Go to row
  r              Ask the server to resend visible rows
  ?              Toggle help
  q              Quit`,
	GroupID: "view",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := datasetName()
		if len(args) == 1 {
			name, err = args[0], nil
		}
		if err != nil {
			return err
		}
		margin, _ := cmd.Flags().GetInt("margin")
		if !cmd.Flags().Changed("margin") {
			margin = syncconfig.GetCacheMargin()
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		stream, err := newClient().Dial(ctx, name)
		cancel()
		if err != nil {
			return err
		}
		defer stream.Close()

		p := tea.NewProgram(grid.NewModel(name, stream, margin), tea.WithAltScreen())
		final, err := p.Run()
		if err != nil {
			return fmt.Errorf("error running viewer: %w", err)
		}
		if m, ok := final.(grid.Model); ok && m.Err != nil {
			return m.Err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Int("margin", 20, "Rows kept cached beyond the viewport on each side")
}
