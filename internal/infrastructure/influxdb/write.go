package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementConnection = "mqtt_connection"
	MeasurementSensor     = "sensor_readings"
	MeasurementLinkHealth = "link_health"
)

// WriteConnectionEvent records a connect or failure transition.
// up is 1 for connected and 0 otherwise, so the series graphs as uptime.
func (c *Client) WriteConnectionEvent(kind, reason string, at time.Time) {
	up := 0
	if kind == "connected" {
		up = 1
	}
	fields := map[string]any{"up": up}
	if reason != "" {
		fields["reason"] = reason
	}
	c.WritePoint(MeasurementConnection, map[string]string{"event": kind}, fields, at)
}

// WriteSensorReading records the numeric fields of one sensor message.
func (c *Client) WriteSensorReading(topic string, fields map[string]any, at time.Time) {
	if len(fields) == 0 {
		return
	}
	c.WritePoint(MeasurementSensor, map[string]string{"topic": topic}, fields, at)
}

// WritePoint writes a custom point. at zero means now.
//
//	client.WritePoint("link_health",
//	    map[string]string{"client_id": "app-1"},
//	    map[string]any{"reconnects": 3}, time.Time{})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.queued.Add(1)
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
