// Package connection keeps a lighting app attached to its MQTT broker.
//
// A Manager owns at most one live broker session at a time. It tracks the
// desired subscriptions, replays them after every successful connect, fans
// inbound messages and connection events out to listeners, and retries
// failed connects on a capped exponential schedule.
//
// Every connect attempt is tagged with a generation number. Callbacks from
// a superseded attempt are dropped, so a slow handshake from an old session
// can never flip the state of the current one.
//
// A Monitor sits beside the Manager and repairs links that died without
// telling anyone: it runs periodic checks, reacts to host events such as a
// network change or screen unlock, and publishes heartbeat probes.
//
// # Usage
//
//	m, err := connection.NewManager(connection.ManagerOptions{
//	    Config:    connection.Config{Host: "broker.local", Port: 8883, UseTLS: true, ClientID: id},
//	    Transport: transport,
//	    Logger:    logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	_ = m.Subscribe("sensor/data", 1)
//	m.AddListener(ui)
//	_ = m.Connect()
package connection
