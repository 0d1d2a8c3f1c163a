package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"spxopt/internal/builder"
	"spxopt/internal/logging"
	"spxopt/internal/models"
	"spxopt/internal/position"
	"spxopt/internal/pricing"
	"spxopt/internal/stream"
	"spxopt/internal/supplier"
	"spxopt/pkg/utils"
)

func newPositionCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "position",
		Short: "Price a multi-leg position",
		Long: `Build a position from --leg flags and price it against the configured source.

Legs are written as ACTION [COUNT] STRIKE[RIGHT] [RIGHT] EXPIRATION, for example
"buy 4000 C 2026-03-20" or "sell 2 4100P 2026-03-20". Legs on the same contract
are netted: a buy and a sell of equal size cancel out.

The lazy total pays the ask on buys and receives the bid on sells; the smart
total uses the bid/ask midpoint. Positive totals are debits, negative credits.`,
	}

	cmd.AddCommand(newPositionPriceCmd(app))
	cmd.AddCommand(newPositionPayoffCmd(app))
	cmd.AddCommand(newPositionWatchCmd(app))
	return cmd
}

// buildPosition validates and parses leg flags and nets them into a position.
func (a *App) buildPosition(ctx context.Context, texts []string) (position.Position, error) {
	if len(texts) == 0 {
		return position.Position{}, fmt.Errorf("at least one --leg is required")
	}
	for _, text := range texts {
		if err := a.Validator.ValidateLegText(ctx, text); err != nil {
			return position.Position{}, err
		}
	}
	legs, err := ParseLegs(texts)
	if err != nil {
		a.Validator.Reject(ctx, "leg", fmt.Sprint(texts), err)
		return position.Position{}, err
	}
	p := position.New()
	for _, leg := range legs {
		p = position.AddOrMerge(p, leg)
	}
	return p, nil
}

func (a *App) resolve(ctx context.Context, legs []models.Leg) (builder.Result, error) {
	src, _, err := a.Source()
	if err != nil {
		return builder.Result{}, err
	}
	disconnect, err := connect(ctx, src, a.Logger)
	if err != nil {
		return builder.Result{}, err
	}
	defer disconnect()

	logger := logging.WithOperation(logging.FromContext(ctx), "resolve")
	logger.Debug().
		Int("legs", len(legs)).
		Str("source", supplier.Name(src)).
		Msg("Resolving legs")
	return builder.Resolve(ctx, legs, src)
}

func newPositionPriceCmd(app *App) *cobra.Command {
	var legTexts []string

	cmd := &cobra.Command{
		Use:   "price",
		Short: "Resolve legs to market quotes and show lazy and smart totals",
		Example: `  spxopt position price --leg "buy 4000 C 2026-03-20" --leg "sell 4100 C 2026-03-20"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			p, err := app.buildPosition(ctx, legTexts)
			if err != nil {
				return err
			}
			if p.IsEmpty() {
				output.Warning("All legs netted out, nothing to price")
				return nil
			}
			res, err := app.resolve(ctx, p.Legs())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(res)
			}
			renderResult(output, res)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&legTexts, "leg", "l", nil, "leg, e.g. \"buy 2 4000 C 2026-03-20\" (repeatable)")
	return cmd
}

func renderResult(output *Output, res builder.Result) {
	table := NewTable(output, "#", "Action", "Contract", "Bid / Ask", "Delta", "Lazy", "Smart")
	for i, r := range res.Resolved {
		table.AddRow(
			fmt.Sprintf("%d", i),
			FormatLegAction(r.Leg),
			FormatContract(r.Leg.Key()),
			FormatBidAsk(r.Bid, r.Ask),
			FormatDelta(r.Delta),
			fmt.Sprintf("%.2f", pricing.LazyLegPrice(r)),
			fmt.Sprintf("%.2f", pricing.SmartLegPrice(r)),
		)
	}
	table.Render()
	output.Println()
	output.Printf("  Lazy bot:  %s\n", output.DebitCredit(res.Lazy))
	output.Printf("  Smart bot: %s\n", output.DebitCredit(res.Smart))
}

func newPositionPayoffCmd(app *App) *cobra.Command {
	var (
		legTexts []string
		cost     float64
		sMin     float64
		sMax     float64
		steps    int
		noChart  bool
	)

	cmd := &cobra.Command{
		Use:   "payoff",
		Short: "Show the P&L at expiration across underlying prices",
		Long: `Payoff samples the position's P&L at expiration: the intrinsic value of every
leg minus the cost basis. The cost basis defaults to the lazy total from the
configured source; pass --cost to skip the quote lookup.`,
		Example: `  spxopt position payoff --leg "buy 4000 C 2026-03-20" --leg "sell 4100 C 2026-03-20"
  spxopt position payoff --leg "sell 4000 P 2026-03-20" --cost -12.5 --min 3800 --max 4200`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			p, err := app.buildPosition(ctx, legTexts)
			if err != nil {
				return err
			}
			legs := p.Legs()

			if !cmd.Flags().Changed("cost") && len(legs) > 0 {
				res, err := app.resolve(ctx, legs)
				if err != nil {
					return err
				}
				cost = res.Lazy
			}

			lo, hi := pricing.DefaultRange(legs, app.Config.Builder.RangePad)
			if cmd.Flags().Changed("min") {
				lo = sMin
			}
			if cmd.Flags().Changed("max") {
				hi = sMax
			}
			if steps <= 0 {
				steps = app.Config.Builder.PayoffSteps
			}

			points := pricing.PayoffCurve(legs, cost, lo, hi, steps)
			summary := pricing.PayoffSummary(points, cost)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"legs":    legs,
					"points":  points,
					"summary": summary,
				})
			}
			renderPayoff(output, legs, summary, points, !noChart)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&legTexts, "leg", "l", nil, "leg, e.g. \"buy 2 4000 C 2026-03-20\" (repeatable)")
	cmd.Flags().Float64Var(&cost, "cost", 0, "cost basis, positive debit or negative credit (default: lazy total)")
	cmd.Flags().Float64Var(&sMin, "min", 0, "lowest underlying price (default: strikes less range_pad)")
	cmd.Flags().Float64Var(&sMax, "max", 0, "highest underlying price (default: strikes plus range_pad)")
	cmd.Flags().IntVar(&steps, "steps", 0, "sample intervals (default: builder.payoff_steps)")
	cmd.Flags().BoolVar(&noChart, "no-chart", false, "omit the text chart")
	return cmd
}

func renderPayoff(output *Output, legs []models.Leg, s pricing.Summary, points []models.PayoffPoint, chart bool) {
	output.Bold("Payoff at expiration")
	for _, leg := range legs {
		output.Printf("  %s\n", leg)
	}
	output.Println()
	output.Printf("  Cost basis:  %s\n", output.DebitCredit(s.CostBasis))
	output.Printf("  Max profit:  %s at %.2f\n", output.PnL(s.MaxProfit), s.MaxProfitAt)
	output.Printf("  Max loss:    %s at %.2f\n", output.PnL(s.MaxLoss), s.MaxLossAt)
	if len(s.Breakevens) == 0 {
		output.Printf("  Breakevens:  none in range\n")
	} else {
		be := make([]string, len(s.Breakevens))
		for i, b := range s.Breakevens {
			be[i] = fmt.Sprintf("%.2f", b)
		}
		output.Printf("  Breakevens:  %v\n", be)
	}
	output.Dim("  Sampled %.2f to %.2f; extremes hold over that range only", s.SampledRange[0], s.SampledRange[1])

	if chart {
		output.Println()
		for _, line := range renderPayoffChart(points) {
			output.Println(line)
		}
	}
}

func newPositionWatchCmd(app *App) *cobra.Command {
	var (
		legTexts []string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reprice a position periodically until interrupted",
		Long: `Watch requests a quote refresh every interval on a background worker. If a
refresh is still waiting when the next one is due, the newer request replaces
it, and results for legs other than the ones shown are discarded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			output := NewOutput(cmd)

			p, err := app.buildPosition(ctx, legTexts)
			if err != nil {
				return err
			}
			legs := p.Legs()
			if interval <= 0 {
				interval = app.Config.Builder.RefreshInterval
			}

			src, _, err := app.Source()
			if err != nil {
				return err
			}
			disconnect, err := connect(ctx, src, app.Logger)
			if err != nil {
				return err
			}
			defer disconnect()

			refresher := stream.NewRefresher(src, app.Logger)
			var wg conc.WaitGroup
			wg.Go(func() { _ = refresher.Run(ctx) })
			defer wg.Wait()
			defer cancel()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			output.Info("Refreshing every %s (Ctrl+C to stop)", interval)
			refresher.Request(legs)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					refresher.Request(legs)
				case u, ok := <-refresher.Updates():
					if !ok {
						return nil
					}
					stamp := u.RequestedAt.In(utils.NewYork).Format("15:04:05")
					if u.Err != nil {
						output.Warning("%s refresh failed: %v", stamp, u.Err)
						continue
					}
					if !u.Result.Matches(legs) {
						continue
					}
					if output.IsJSON() {
						if err := output.JSON(u.Result); err != nil {
							return err
						}
						continue
					}
					output.Println()
					output.Bold("%s %s", stamp, utils.MarketStatusAt(u.RequestedAt))
					renderResult(output, u.Result)
				}
			}
		},
	}

	cmd.Flags().StringArrayVarP(&legTexts, "leg", "l", nil, "leg, e.g. \"buy 2 4000 C 2026-03-20\" (repeatable)")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "refresh interval (default: builder.refresh_interval)")
	return cmd
}
