package commands

import (
	"steamcommunity/cmd/confirmd/globals"
	"steamcommunity/cmd/confirmd/utils"
	"steamcommunity/internal/confirmations"

	"github.com/spf13/cobra"
)

var listOffers bool

var listCmd = &cobra.Command{
	Use:   "list [--offers]",
	Short: "Lists the outstanding confirmations.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		value := globals.Get(ctx)
		keys, err := newKeyring(ctx, value)
		if err != nil {
			return err
		}

		confs, err := value.Confirmations.List(ctx, keys.time, keys.key(confirmations.TAG_LIST))
		if err != nil {
			return err
		}

		if listOffers {
			detailsKey := keys.key(confirmations.TAG_DETAILS)
			for i := range confs {
				if confs[i].Type != confirmations.TYPE_TRADE {
					confs[i].OfferResolved = true
					continue
				}
				offerID, err := value.Confirmations.OfferID(ctx, confs[i].ID, keys.time, detailsKey)
				if err != nil {
					return err
				}
				confs[i].OfferID = offerID
				confs[i].OfferResolved = true
			}
		}

		t := utils.NewTable()
		t.AppendHeader(utils.ConfirmationHeader)
		t.AppendRows(utils.ConfirmationRows(confs))
		t.Render()
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listOffers, "offers", false, "Also load the trade offer id of every trade confirmation.")
	rootCmd.AddCommand(listCmd)
}
