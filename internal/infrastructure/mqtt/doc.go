// Package mqtt is the bridge between the fleet core and the MQTT broker.
//
// A single Manager owns the one long-lived broker connection. It connects at
// start (continuing degraded if the broker is down), supervises the
// connection on a fixed interval, makes one delayed reconnect attempt after a
// lost connection and replays every tracked subscription after each fresh
// connection. Publish never fails loudly: it returns false and logs.
//
// # Topics
//
//	<namespace>/<droneId>/telemetry   drone → core
//	<namespace>/<droneId>/responses   drone → core (command acknowledgements)
//	<namespace>/<droneId>/commands    core → drone
//	system/bridge/status              retained online/offline status and LWT
//	system/check/<probeId>            self-test round trips
//
// # State machine
//
//	DISCONNECTED ─Start─▶ CONNECTING ─ok─▶ CONNECTED
//	      ▲                    │               │ lost
//	      └──────fail──────────┘               ▼
//	      ◀───────────fail──────────────  RECONNECTING ─ok─▶ CONNECTED
//
// # Usage
//
//	m := mqtt.NewManager(cfg.MQTT)
//	m.SetLogger(log)
//	if err := m.Start(ctx); err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	topics := mqtt.Topics{Namespace: cfg.MQTT.TopicNamespace}
//	_ = m.Subscribe(topics.AllTelemetry(), 1, router.HandleMessage)
//	ok := m.PublishJSON(topics.Commands(droneID), envelope)
package mqtt
