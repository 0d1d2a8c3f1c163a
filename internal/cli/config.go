package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"spxopt/internal/config"
	"spxopt/internal/security"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the configuration in config.toml.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				masked := *app.Config
				masked.Alpaca.APIKey = security.MaskCredential(masked.Alpaca.APIKey)
				masked.Alpaca.APISecret = security.MaskCredential(masked.Alpaca.APISecret)
				return output.JSON(masked)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration file path",
		Annotations: map[string]string{skipSetup: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			path := config.ConfigPath(dir)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": path})
			} else {
				output.Println(path)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "validate",
		Short:       "Validate the configuration file",
		Annotations: map[string]string{skipSetup: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			if _, err := config.Load(dir); err != nil {
				if output.IsJSON() {
					output.JSON(map[string]interface{}{"valid": false, "error": err.Error()})
				} else {
					output.Error("Configuration validation failed: %v", err)
				}
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("General")
	output.Printf("  Config dir:      %s\n", cfg.Dir)
	output.Printf("  Underlying:      %s\n", cfg.Underlying.Symbol)
	output.Printf("  Supplier:        %s\n", cfg.Supplier.Kind)
	output.Printf("  Database:        %s\n", cfg.Store.Path)
	output.Println()

	output.Bold("IBKR Gateway")
	output.Printf("  Base URL:        %s\n", cfg.IBKR.BaseURL)
	output.Printf("  Insecure TLS:    %v\n", cfg.IBKR.InsecureTLS)
	output.Printf("  Timeout:         %s\n", cfg.IBKR.Timeout)
	output.Printf("  Concurrency:     %d\n", cfg.IBKR.MaxConcurrency)
	output.Printf("  Retries:         %d\n", cfg.IBKR.MaxRetries)
	output.Println()

	output.Bold("Alpaca")
	output.Printf("  Feed:            %s\n", cfg.Alpaca.Feed)
	output.Printf("  Root symbol:     %s\n", cfg.Alpaca.RootSymbol)
	output.Printf("  API key:         %s\n", security.MaskCredential(cfg.Alpaca.APIKey))
	output.Println()

	output.Bold("Collector")
	output.Printf("  Interval:        %s\n", cfg.Collector.Interval)
	expiration := cfg.Collector.Expiration
	if expiration == "" {
		expiration = "next"
	}
	output.Printf("  Expiration:      %s\n", expiration)
	output.Println()

	output.Bold("Builder")
	output.Printf("  Refresh:         %s\n", cfg.Builder.RefreshInterval)
	output.Printf("  Payoff steps:    %d\n", cfg.Builder.PayoffSteps)
	output.Printf("  Range pad:       %.0f%%\n", cfg.Builder.RangePad*100)
	output.Println()

	output.Bold("Kafka")
	output.Printf("  Enabled:         %v\n", cfg.Kafka.Enabled)
	if cfg.Kafka.Enabled {
		output.Printf("  Brokers:         %v\n", cfg.Kafka.Brokers)
		output.Printf("  Topic:           %s\n", cfg.TopicFor(cfg.Underlying.Symbol))
	}
	output.Println()

	output.Bold("Security")
	output.Printf("  Read-only:       %v\n", cfg.Security.ReadOnlyMode)
	output.Printf("  Audit:           %s\n", enabledAt(cfg.Security.AuditEnabled, cfg.Security.AuditDir))
	output.Printf("  API listen:      %s\n", cfg.API.Listen)
}

func enabledAt(enabled bool, where string) string {
	if !enabled {
		return "disabled"
	}
	return fmt.Sprintf("enabled (%s)", where)
}
