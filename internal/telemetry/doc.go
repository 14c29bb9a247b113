// Package telemetry records link health and sensor readings to InfluxDB.
//
// Recorder listens on the connection manager and writes one point per
// connection transition and per sensor message. Sampler writes the manager
// and monitor counters on an interval.
package telemetry
