package commands

import (
	"errors"
	"steamcommunity/cmd/confirmd/globals"
	"steamcommunity/cmd/confirmd/utils"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyPrune time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history [--limit n] [--prune <age>]",
	Short: "Shows the confirmations the poller surfaced or accepted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !loadedConfig.History.Enabled() {
			return errors.New("history is not configured, set history.file or history.url")
		}

		ctx := cmd.Context()
		store, closeStore, err := openHistory(ctx, loadedConfig.History, globals.Get(ctx))
		if err != nil {
			return err
		}
		defer closeStore()

		if historyPrune > 0 {
			err = store.Prune(ctx, time.Now().Add(-historyPrune))
			if err != nil {
				return err
			}
		}

		entries, err := store.Recent(ctx, historyLimit)
		if err != nil {
			return err
		}

		t := utils.NewTable()
		t.AppendHeader(table.Row{"Observed", "Event", "ID", "Type", "Creator", "Offer", "Title"})
		for _, entry := range entries {
			t.AppendRow(table.Row{
				utils.FormatTime(entry.ObservedAt),
				entry.Kind,
				entry.ConfirmationID,
				entry.Type.String(),
				entry.CreatorID,
				entry.OfferID,
				entry.Title,
			})
		}
		t.Render()
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "The amount of entries to show.")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "Delete entries older than this before listing.")
	rootCmd.AddCommand(historyCmd)
}
