// Package config handles loading and validating Gray Logic Zones configuration.
//
// This package manages:
//   - Loading configuration from YAML files (unknown keys are an error)
//   - Overriding with environment variables
//   - Validation of required fields and the site timezone
//   - Default value handling
//
// The controller trees themselves live in a separate file referenced by
// zones.config_file and are parsed by the zone package, not here.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - JWT secrets must be set before the API is enabled
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Zones.ConfigFile)
package config
