// Package laststate remembers the latest payload on each topic and the
// recent connection history in SQLite.
//
// The Recorder is registered as a connection listener. The API reads the
// stored values back so a client that opens while the broker is down still
// sees the last sensor reading and why the link is down.
package laststate
