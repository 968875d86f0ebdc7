// Package device holds the device catalogue domain: device and settings
// types, ownership and validation rules, and their SQLite repositories.
//
// A user owns any number of switchable appliances but at most one power
// monitor and one grid monitor. The repositories enforce that rule and the
// global uniqueness of MQTT prefixes with unique indexes, reported as
// ErrMonitorExists and ErrPrefixInUse. Orchestration of the downstream
// device-control service lives in the catalogue package.
package device
