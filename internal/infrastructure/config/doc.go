// Package config handles loading and validating Laurel configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with LAUREL_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Cloud and broker passwords should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - API authentication is off until security.jwt.secret is set
//
// Usage:
//
//	cfg, err := config.Load(config.ResolvePath(flagPath))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Transport.Gateway.Connection)
package config
