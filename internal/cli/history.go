package cli

import (
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	apperrors "spxopt/internal/errors"
	"spxopt/internal/models"
	"spxopt/internal/store"
	"spxopt/pkg/utils"
)

// staleAfter is how old the latest snapshot may be before it is reported stale.
const staleAfter = 15 * time.Minute

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse stored snapshots",
		Long:  "Query the snapshot database: stored expirations, strikes and per-contract price history.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "expirations",
		Short: "List stored expirations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			repo, err := app.Repository()
			if err != nil {
				return err
			}
			if err := repo.EnsureSchema(ctx); err != nil {
				return err
			}
			exps, err := repo.Expirations(ctx)
			if err != nil {
				return err
			}

			now := time.Now()
			fresh := make([]store.DataFreshness, 0, len(exps))
			for _, e := range exps {
				f, err := store.Freshness(ctx, repo, e, now, staleAfter)
				if err != nil {
					return err
				}
				fresh = append(fresh, f)
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"underlying": repo.Underlying(), "expirations": fresh})
			}
			if len(fresh) == 0 {
				output.Warning("No snapshots stored for %s", repo.Underlying())
				return nil
			}
			table := NewTable(output, "Expiration", "Last snapshot")
			for _, f := range fresh {
				status := store.FormatFreshness(f)
				if !f.IsFresh {
					status = output.DimText(status)
				}
				table.AddRow(f.Expiration.String(), status)
			}
			table.Render()
			return nil
		},
	})

	var strikesExp string
	strikes := &cobra.Command{
		Use:   "strikes",
		Short: "List stored strikes of an expiration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			exp, err := parseDateFlag("expiration", strikesExp)
			if err != nil {
				return err
			}
			repo, err := app.Repository()
			if err != nil {
				return err
			}
			if err := repo.EnsureSchema(ctx); err != nil {
				return err
			}
			list, err := repo.Strikes(ctx, exp)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"expiration": exp, "strikes": list})
			}
			if len(list) == 0 {
				output.Warning("No strikes stored for %s", exp)
				return nil
			}
			output.Println(FormatStrikes(list))
			return nil
		},
	}
	strikes.Flags().StringVarP(&strikesExp, "expiration", "e", "", "expiration (YYYY-MM-DD)")
	_ = strikes.MarkFlagRequired("expiration")
	cmd.AddCommand(strikes)

	cmd.AddCommand(newHistoryPricesCmd(app))
	return cmd
}

func newHistoryPricesCmd(app *App) *cobra.Command {
	var (
		expiration string
		strike     float64
		right      string
		asCSV      bool
	)

	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Show the stored bid/ask/last series of one contract",
		Example: `  spxopt history prices -e 2026-03-20 -s 4000 -r C
  spxopt history prices -e 2026-03-20 -s 4000 -r P --csv > 4000P.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			exp, err := parseDateFlag("expiration", expiration)
			if err != nil {
				return err
			}
			if strike <= 0 {
				return apperrors.NewValidationError("strike", strconv.FormatFloat(strike, 'f', -1, 64), "must be a positive number")
			}
			r, err := models.ParseRight(right)
			if err != nil {
				return err
			}
			key := models.ContractKey{Expiration: exp, Strike: strike, Right: r}

			repo, err := app.Repository()
			if err != nil {
				return err
			}
			if err := repo.EnsureSchema(ctx); err != nil {
				return err
			}
			points, err := repo.PriceHistory(ctx, exp, strike, r)
			if err != nil {
				return err
			}

			switch {
			case asCSV:
				return store.ExportHistoryCSV(cmd.OutOrStdout(), key, points)
			case output.IsJSON():
				return output.JSON(map[string]interface{}{"contract": key.String(), "points": points})
			}

			if len(points) == 0 {
				output.Warning("No snapshots stored for %s", key)
				return nil
			}
			output.Bold("%s %s (%d snapshots)", repo.Underlying(), key, len(points))
			table := NewTable(output, "Time (UTC)", "Bid", "Ask", "Last")
			for _, p := range points {
				table.AddRow(
					p.SnapshotUTC.UTC().Format("2006-01-02 15:04:05"),
					utils.FormatPrice(p.Bid),
					utils.FormatPrice(p.Ask),
					utils.FormatPrice(p.Last),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&expiration, "expiration", "e", "", "expiration (YYYY-MM-DD)")
	cmd.Flags().Float64VarP(&strike, "strike", "s", 0, "strike")
	cmd.Flags().StringVarP(&right, "right", "r", "C", "C or P")
	cmd.Flags().BoolVar(&asCSV, "csv", false, "write CSV to stdout")
	_ = cmd.MarkFlagRequired("expiration")
	_ = cmd.MarkFlagRequired("strike")
	return cmd
}

func parseDateFlag(name, value string) (civil.Date, error) {
	d, err := civil.ParseDate(value)
	if err != nil {
		return civil.Date{}, apperrors.NewValidationError(name, value, "expected YYYY-MM-DD")
	}
	return d, nil
}
