package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementBalancerAction = "balancer_action"
	MeasurementDeviceStatus   = "device_status"
)

// WriteBalancerAction records that the balancer switched a device.
func (c *Client) WriteBalancerAction(username string, deviceID int64, deviceName, action string) {
	c.writePoint(MeasurementBalancerAction,
		map[string]string{
			"username":  username,
			"device_id": strconv.FormatInt(deviceID, 10),
			"action":    action,
		},
		map[string]any{
			"device_name": deviceName,
			"count":       1,
		},
	)
}

// WriteDeviceStatus records the fields of one status update. deviceID may
// be empty when the update does not name a device.
func (c *Client) WriteDeviceStatus(username, deviceID string, fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	tags := map[string]string{"username": username}
	if deviceID != "" {
		tags["device_id"] = deviceID
	}
	c.writePoint(MeasurementDeviceStatus, tags, fields)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
