package cli

import (
	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"spxopt/internal/builder"
	apperrors "spxopt/internal/errors"
	"spxopt/internal/logging"
	"spxopt/internal/models"
	"spxopt/internal/pricing"
	"spxopt/internal/supplier"
	"spxopt/pkg/utils"
)

func newChainCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Query the configured chain source",
		Long:  "List expirations and show option chains from the configured supplier.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "expirations",
		Short: "List expirations offered by the source",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			src, _, err := app.Source()
			if err != nil {
				return err
			}
			disconnect, err := connect(ctx, src, app.Logger)
			if err != nil {
				return err
			}
			defer disconnect()

			exps, err := builder.Expirations(ctx, src)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"source": supplier.Name(src), "expirations": exps})
			}
			if len(exps) == 0 {
				output.Warning("No expirations available")
				return nil
			}
			output.Dim("Market %s", utils.GetMarketStatus())
			today := utils.Today()
			for _, e := range exps {
				if e.Before(today) {
					output.Println(output.DimText(e.String()))
				} else {
					output.Println(e.String())
				}
			}
			return nil
		},
	})

	var expiration string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the chain of one expiration",
		Example: `  spxopt chain show
  spxopt chain show --expiration 2026-03-20 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			src, _, err := app.Source()
			if err != nil {
				return err
			}
			disconnect, err := connect(ctx, src, app.Logger)
			if err != nil {
				return err
			}
			defer disconnect()

			var exp civil.Date
			if expiration != "" {
				if exp, err = civil.ParseDate(expiration); err != nil {
					return apperrors.NewValidationError("expiration", expiration, "expected YYYY-MM-DD")
				}
			} else {
				exps, err := src.Expirations(ctx)
				if err != nil {
					return err
				}
				next, ok := supplier.NextExpiration(exps, utils.Today())
				if !ok {
					return apperrors.ErrNoExpirations
				}
				exp = next
			}

			logger := logging.WithExpiration(app.Logger, exp)
			logger.Debug().Str("source", supplier.Name(src)).Msg("Fetching chain")
			quotes, err := src.Chain(ctx, exp)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"expiration": exp, "quotes": quotes})
			}
			renderChain(output, exp, quotes)
			return nil
		},
	}
	show.Flags().StringVarP(&expiration, "expiration", "e", "", "expiration (YYYY-MM-DD, default: next)")
	cmd.AddCommand(show)

	return cmd
}

func renderChain(output *Output, exp civil.Date, quotes []models.Quote) {
	output.Bold("Chain %s (%d contracts)", exp, len(quotes))
	table := NewTable(output, "Strike", "Type", "Bid", "Ask", "Mid", "Last", "Delta", "Volume", "OI")
	for _, q := range quotes {
		table.AddRow(
			models.FormatStrike(q.Strike),
			q.Right.Name(),
			utils.FormatPrice(q.Bid),
			utils.FormatPrice(q.Ask),
			utils.FormatPrice(pricing.Mid(q.Bid, q.Ask)),
			utils.FormatPrice(q.Last),
			FormatDelta(q.Delta),
			utils.FormatQuantity(q.Volume),
			utils.FormatQuantity(q.OpenInterest),
		)
	}
	table.Render()
}
