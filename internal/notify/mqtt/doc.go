// Package mqtt is pyde1-core's notification transport (spec.md §6
// "Notification surface"): it mirrors every bus event onto
// `{TOPIC_ROOT}/{Kind}` topics, publishes a retained Last Will and
// Testament for unexpected disconnect, and keeps the retained
// `update/de1/state` sync topic current for UIs that poll instead of
// holding a websocket open.
//
// # Architecture
//
//	eventbus.Bus -> notify/mqtt.Transport -> MQTT broker -> UI subscribers
//
// The broker decouples pyde1-core from the set of UIs watching it; any
// number of clients can subscribe without the core tracking them.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//	transport := mqtt.NewTransport(client, cfg.MQTT.TopicRoot)
//	transport.Run(ctx, bus)
package mqtt
