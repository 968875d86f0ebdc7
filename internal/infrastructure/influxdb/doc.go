// Package influxdb records balancer telemetry in InfluxDB v2.
//
// Two measurements are written:
//   - balancer_action: one point per device the balancer switched off or on
//   - device_status: numeric and boolean fields of relayed status updates
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write failures are delivered to the callback
// set with SetOnError. The integration is optional: Connect returns
// ErrDisabled when influxdb.enabled is false.
package influxdb
