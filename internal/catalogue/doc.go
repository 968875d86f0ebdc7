// Package catalogue orchestrates the device catalogue: ownership and
// monitor-uniqueness rules, persistence through the device repositories,
// and the downstream sync notifications each change requires.
package catalogue
