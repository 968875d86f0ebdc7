// Package logging provides the structured logger shared by every
// Balancer Core component.
//
// Logger wraps log/slog. Each entry carries service and version fields;
// components add their own with With("component", ...).
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "./logs/balancer.log"
//	    max_size: 50     # MB before rotation
//
// File output rotates through lumberjack.
//
// Never log JWTs, VAPID private keys, push subscription keys, or the
// downstream service token.
package logging
