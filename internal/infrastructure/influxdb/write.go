package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/edgehub-core/internal/device"
)

// telemetryMeasurement is the measurement name for device telemetry points.
const telemetryMeasurement = "device_telemetry"

// RecordTelemetry writes one merged telemetry snapshot for a device.
//
// The signature matches hub.TelemetryRecorder, so a connected Client plugs
// straight into the coordinator. The write is non-blocking; points are
// batched and sent asynchronously, and a disconnected client drops them.
func (c *Client) RecordTelemetry(logicalID string, t device.Telemetry, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		telemetryMeasurement,
		map[string]string{
			"logical_id": logicalID,
		},
		t.Fields(),
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
