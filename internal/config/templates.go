package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# spxopt configuration

[underlying]
# Index whose option chain is tracked
symbol = "SPX"

[supplier]
# Chain-data source: "ibkr" (Client Portal gateway), "alpaca", or "db" (replay stored snapshots)
kind = "ibkr"

[ibkr]
# Client Portal gateway base URL
base_url = "https://localhost:5000/v1/api"
# The gateway ships with a self-signed certificate
insecure_tls = true
timeout = "15s"
# Concurrent contract lookups while building a chain
max_concurrency = 8
max_retries = 3
# Consecutive failures before the circuit opens, and how long it stays open
breaker_failures = 5
breaker_reset = "30s"

[alpaca]
# API keys are read from APCA_API_KEY_ID and APCA_API_SECRET_KEY
# Options feed: "indicative" or "opra"
feed = "indicative"
# OCC root used for contract symbols
root_symbol = "SPXW"

[store]
# SQLite database file (default: <config dir>/data/options.db)
path = ""

[collector]
# Time between snapshots
interval = "60s"
# Fixed expiration to collect (YYYY-MM-DD); empty means the next expiration
expiration = ""

[builder]
# Quote refresh interval for position watch
refresh_interval = "15s"
# Intervals sampled on the payoff curve
payoff_steps = 80
# Fraction the default payoff range extends beyond the outer strikes
range_pad = 0.10

[kafka]
# Publish every stored snapshot row
enabled = false
brokers = ["localhost:9092"]
topic_prefix = "option-snapshots"

[api]
listen = "127.0.0.1:8080"

[logging]
# debug, info, warn, error
level = "info"
# Log directory (default: <config dir>/logs)
dir = ""
max_size_mb = 100
max_backups = 7
max_age_days = 30
# File-only connectivity log, relative to the log directory
connection_log = "connection.log"

[security]
# Block snapshot writes
read_only_mode = false
# Record supplier access in the audit trail
audit_enabled = true
# Audit directory (default: <config dir>/audit)
audit_dir = ""
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
