package commands

import (
	"fmt"
	"log/slog"
	"steamcommunity/cmd/confirmd/globals"
	"steamcommunity/cmd/confirmd/utils"
	"steamcommunity/internal/confirmations"

	"github.com/spf13/cobra"
)

func respondAllCmd(accept bool) *cobra.Command {
	use := "cancel-all"
	short := "Cancels every outstanding confirmation."
	if accept {
		use = "accept-all"
		short = "Accepts every outstanding confirmation."
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			value := globals.Get(ctx)
			keys, err := newKeyring(ctx, value)
			if err != nil {
				return err
			}

			confs, err := value.Confirmations.RespondAll(
				ctx,
				keys.time,
				keys.key(confirmations.TAG_LIST),
				keys.key(confirmations.ActionTag(accept)),
				accept,
			)
			if err != nil {
				return err
			}
			if len(confs) == 0 {
				slog.Info("there are no outstanding confirmations")
				return nil
			}

			t := utils.NewTable()
			t.AppendHeader(utils.ConfirmationHeader)
			t.AppendRows(utils.ConfirmationRows(confs))
			t.Render()
			return nil
		},
	}
}

var acceptObjectCmd = &cobra.Command{
	Use:   "accept-object <trade offer or listing id>",
	Short: "Accepts the confirmation of a trade offer or market listing.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		value := globals.Get(ctx)
		if value.Secret == nil {
			return errNoSecret
		}

		err := value.Confirmations.AcceptForObject(ctx, value.Secret, args[0])
		if err != nil {
			return err
		}
		slog.Info("accepted confirmation", "object", args[0])
		return nil
	},
}

var offerIDCmd = &cobra.Command{
	Use:   "offer-id <confirmation id>",
	Short: "Prints the trade offer id a confirmation belongs to.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		value := globals.Get(ctx)
		keys, err := newKeyring(ctx, value)
		if err != nil {
			return err
		}

		offerID, err := value.Confirmations.OfferID(ctx, args[0], keys.time, keys.key(confirmations.TAG_DETAILS))
		if err != nil {
			return err
		}
		if offerID == "" {
			return fmt.Errorf("confirmation %s does not belong to a trade offer", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), offerID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(respondAllCmd(true))
	rootCmd.AddCommand(respondAllCmd(false))
	rootCmd.AddCommand(acceptObjectCmd)
	rootCmd.AddCommand(offerIDCmd)
}
