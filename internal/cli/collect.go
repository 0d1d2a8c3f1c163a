package cli

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"spxopt/internal/collector"
	"spxopt/internal/config"
	apperrors "spxopt/internal/errors"
	"spxopt/pkg/utils"
)

func newCollectCmd(app *App) *cobra.Command {
	var (
		once            bool
		expiration      string
		interval        time.Duration
		marketHoursOnly bool
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Snapshot the option chain into the database",
		Long: `Collect fetches the chain of one expiration from the configured supplier and
stores every contract as a row in option_snapshots_<SYMBOL>. Without --once it
repeats every interval until interrupted; failed collections are logged and
retried on the next tick.

The expiration defaults to the next one listed from today (New York). A
requested expiration the supplier does not list falls back to the next one.`,
		Example: `  spxopt collect --once
  spxopt collect --interval 30s --market-hours
  spxopt collect --expiration 2026-03-20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)
			cfg := app.Config

			if cfg.Supplier.Kind == config.SupplierDB {
				return fmt.Errorf("%w: collect needs a live supplier, not %q", apperrors.ErrConfigInvalid, cfg.Supplier.Kind)
			}

			if expiration == "" {
				expiration = cfg.Collector.Expiration
			}
			var exp civil.Date
			if expiration != "" {
				d, err := civil.ParseDate(expiration)
				if err != nil {
					return apperrors.NewValidationError("expiration", expiration, "expected YYYY-MM-DD")
				}
				exp = d
			}
			if interval <= 0 {
				interval = cfg.Collector.Interval
			}

			repo, err := app.Repository()
			if err != nil {
				return err
			}
			if err := repo.EnsureSchema(ctx); err != nil {
				return err
			}
			src, _, err := app.Source()
			if err != nil {
				return err
			}
			pub, closePub := app.Publisher(nil)
			defer closePub()

			c := collector.New(src, repo, collector.Config{
				Interval:        interval,
				Expiration:      exp,
				MarketHoursOnly: marketHoursOnly,
			},
				collector.WithAccessController(app.Access),
				collector.WithAuditor(app.Auditor),
				collector.WithPublisher(pub),
				collector.WithLogger(app.Logger),
			)

			if !once {
				output.Info("Collecting %s every %s (Ctrl+C to stop)", cfg.Underlying.Symbol, interval)
				return c.Run(ctx)
			}

			disconnect, err := connect(ctx, src, app.Logger)
			if err != nil {
				return err
			}
			defer disconnect()

			res, err := c.CollectOnce(ctx)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(res)
			}
			if res.Fallback {
				output.Warning("%s is not listed, collected %s instead", exp, res.Expiration)
			}
			if res.Rows == 0 {
				output.Warning("Empty chain for %s, nothing stored", res.Expiration)
				return nil
			}
			output.Success("Stored %s rows for %s %s at %s",
				utils.FormatQuantity(int64(res.Rows)), cfg.Underlying.Symbol, res.Expiration,
				res.SnapshotUTC.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "collect a single snapshot and exit")
	cmd.Flags().StringVarP(&expiration, "expiration", "e", "", "expiration to collect (YYYY-MM-DD, default: next)")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "time between snapshots (default: collector.interval)")
	cmd.Flags().BoolVar(&marketHoursOnly, "market-hours", false, "skip snapshots while the market is closed")
	return cmd
}
