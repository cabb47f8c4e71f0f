// Package config handles loading and validating garge node configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GARGE_* environment variables
//   - Validation of required fields
//   - Factory defaults for a freshly flashed node
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//     or provisioned into the non-volatile store, not committed to config files
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.TopicRoot)
package config
