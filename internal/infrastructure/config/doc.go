// Package config loads and validates the Balancer Core configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// BALANCER_* environment variables. Validate reports every problem in a
// single error.
//
// Secrets (JWT secret, seeded account passwords, VAPID keys, the
// downstream service token) should come from the environment, and the
// config file should be 0600.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
package config
