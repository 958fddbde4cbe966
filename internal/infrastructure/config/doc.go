// Package config handles loading and validating Gray Logic Rules configuration.
//
// Values are layered in this order, each overriding the last:
//   - Built-in defaults
//   - The YAML file passed to Load
//   - A .env file next to the YAML file (optional)
//   - GRAYLOGIC_* environment variables
//
// Validate runs after all layers are applied, so a bad environment value
// is reported the same way as a bad file value.
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens belong in the environment or .env
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	loc := cfg.Location()
package config
