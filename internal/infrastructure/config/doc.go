// Package config handles loading and validating pyde1-core's configuration
// (spec §6 "Configuration").
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Usage:
//
//	cfg, err := config.Load("/usr/local/etc/pyde1/pyde1.conf")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Database.Filename)
package config
