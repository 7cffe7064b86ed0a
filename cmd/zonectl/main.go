// Gray Logic Zones - presence driven lighting controllers
//
// zonectl runs the zone controllers and state enforcers of a Gray Logic
// site. Controllers turn motion and switch events into light and scene
// commands; enforcers keep retrying a commanded state until the device
// reports it.
//
// Subcommands:
//   - serve:    run the controllers, enforcers, MQTT bridge and HTTP API
//   - validate: check a controller file without starting anything
//   - token:    mint an API access token
//   - version:  print build information
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv overrides defaultConfigPath when --config is not given.
const configEnv = "GRAYLOGIC_CONFIG"

func main() {
	// Cancel on Ctrl+C and SIGTERM so serve can shut down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath returns the configuration file path.
// An explicit flag wins, then GRAYLOGIC_CONFIG, then the default.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
