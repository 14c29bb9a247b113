// Package influxdb writes link and sensor telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 non-blocking write API. Points
// are batched in memory and flushed on an interval; write failures arrive
// through SetOnError.
//
// # Measurements
//
//   - mqtt_connection: one point per connect or failure (field up=1/0)
//   - sensor_readings: numeric fields from sensor messages, tagged by topic
//   - link_health: periodic manager and monitor counters
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, map[string]string{"site": cfg.Site.ID})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteConnectionEvent("connected", "", time.Now())
package influxdb
