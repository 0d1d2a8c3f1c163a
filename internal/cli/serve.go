package cli

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"spxopt/internal/api"
	"spxopt/internal/collector"
	"spxopt/internal/config"
	apperrors "spxopt/internal/errors"
	"spxopt/internal/stream"
)

func newServeCmd(app *App) *cobra.Command {
	var (
		listen  string
		collect bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the history, chain and position API over HTTP",
		Long: `Serve starts the local JSON API under /api/v1. With --collect it also runs the
snapshot collector, and every stored snapshot is pushed to clients of
/api/v1/stream/snapshots (and to Kafka when enabled).`,
		Example: `  spxopt serve
  spxopt serve --collect --listen 127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config
			if listen == "" {
				listen = cfg.API.Listen
			}
			if collect && cfg.Supplier.Kind == config.SupplierDB {
				return fmt.Errorf("%w: --collect needs a live supplier, not %q", apperrors.ErrConfigInvalid, cfg.Supplier.Kind)
			}
			var exp civil.Date
			if collect && cfg.Collector.Expiration != "" {
				d, err := parseDateFlag("collector.expiration", cfg.Collector.Expiration)
				if err != nil {
					return err
				}
				exp = d
			}

			repo, err := app.Repository()
			if err != nil {
				return err
			}
			if err := repo.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			src, breaker, err := app.Source()
			if err != nil {
				return err
			}
			defer closer(src, app.Logger)()

			hub := stream.NewHub()
			defer hub.Close()

			server := api.NewServer(repo, src,
				api.WithHub(hub),
				api.WithHealthMonitor(app.HealthMonitor(breaker)),
				api.WithValidator(app.Validator),
				api.WithPayoff(cfg.Builder.PayoffSteps, cfg.Builder.RangePad),
				api.WithLogger(app.Logger),
			)

			p := pool.New().WithContext(cmd.Context()).WithCancelOnError()
			p.Go(func(ctx context.Context) error {
				return server.ListenAndServe(ctx, listen)
			})

			if collect {
				pub, closePub := app.Publisher(hub)
				defer closePub()

				c := collector.New(src, repo, collector.Config{
					Interval:   cfg.Collector.Interval,
					Expiration: exp,
				},
					collector.WithAccessController(app.Access),
					collector.WithAuditor(app.Auditor),
					collector.WithPublisher(pub),
					collector.WithLogger(app.Logger),
				)
				if app.Access.IsReadOnly() {
					app.Logger.Warn().Msg("Read-only mode is enabled, collected snapshots will not be stored")
				}
				p.Go(c.Run)
			}

			NewOutput(cmd).Info("Serving %s on http://%s/api/v1", cfg.Underlying.Symbol, listen)
			return p.Wait()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: api.listen)")
	cmd.Flags().BoolVar(&collect, "collect", false, "also run the snapshot collector")
	return cmd
}
