// Package config handles loading and validating lightlink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with LIGHTLINK_* environment variables
//   - Validation of every section, reporting all problems at once
//   - Default values matching the lighting controller's topics
//
// Security Considerations:
//   - Broker passwords, InfluxDB tokens and the API signing secret should be
//     set via environment variables, not committed in the file
//   - The config file should have restricted permissions (0600)
//   - insecure_skip_verify is for self-signed brokers on a trusted LAN only
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
