// Package cli provides the spxopt command-line interface.
package cli

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"spxopt/internal/config"
	"spxopt/internal/logging"
	"spxopt/internal/security"
	"spxopt/internal/store"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2026-03-01"
)

// skipSetup marks commands that run without loading configuration.
const skipSetup = "skip-setup"

// App holds the application dependencies. It is populated before any command
// that needs configuration runs.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Auditor   security.Auditor
	Access    *security.AccessController
	Validator *security.InputValidator

	auditLog *security.AuditLogger
	db       *store.SQLiteStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "spxopt",
		Short: "SPX options chain snapshots, position builder and payoff",
		Long: `spxopt collects index option chain snapshots into SQLite, prices multi-leg
positions against live or stored quotes and plots their payoff at expiration.

Chain data comes from the IBKR Client Portal gateway, Alpaca market data or the
local snapshot database, selected by supplier.kind in config.toml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipSetup] == "true" {
				return nil
			}
			return app.setup(cmd)
		},
	}
	cobra.OnFinalize(func() {
		if err := app.Close(); err != nil {
			app.Logger.Warn().Err(err).Msg("Failed to release resources")
		}
	})

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/spxopt)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newCollectCmd(app))
	rootCmd.AddCommand(newChainCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
	rootCmd.AddCommand(newPositionCmd(app))
	rootCmd.AddCommand(newServeCmd(app))

	return rootCmd
}

func (a *App) setup(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.Config = cfg

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.FilePath = filepath.Join(cfg.Logging.Dir, "spxopt.log")
	if cfg.Logging.MaxSizeMB > 0 {
		logCfg.MaxSize = cfg.Logging.MaxSizeMB
	}
	if cfg.Logging.MaxBackups > 0 {
		logCfg.MaxBackups = cfg.Logging.MaxBackups
	}
	if cfg.Logging.MaxAgeDays > 0 {
		logCfg.MaxAge = cfg.Logging.MaxAgeDays
	}
	a.Logger = logging.NewLoggerWithConfig(logCfg)
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logging.WithLogger(ctx, a.Logger))

	if cfg.Security.AuditEnabled {
		auditCfg := security.DefaultAuditConfig()
		auditCfg.LogDir = cfg.Security.AuditDir
		al, err := security.NewAuditLogger(auditCfg)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Audit log unavailable")
		} else {
			a.auditLog = al
			a.Auditor = al
		}
	}
	a.Access = security.NewAccessController(cfg.Security.ReadOnlyMode, a.Auditor)
	a.Validator = security.NewInputValidator(a.Auditor)
	return nil
}

// Close releases the store and the audit log.
func (a *App) Close() error {
	var firstErr error
	if a.db != nil {
		firstErr = a.db.Close()
		a.db = nil
	}
	if a.auditLog != nil {
		if err := a.auditLog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.auditLog = nil
	}
	return firstErr
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipSetup: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("spxopt v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}
