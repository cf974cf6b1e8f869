// Package mqtt provides the broker transport for the WebIoT relay.
//
// This package manages:
//   - Connection to an MQTT broker with connect retry and auto-reconnect
//   - Topic subscription with frames delivered as ordered events
//   - Bounded, context-aware publishing
//   - Topic and filter validation
//
// # Architecture
//
// The transport never calls back into application code. Everything paho
// reports is converted to an Event and posted to one channel:
//
//	paho goroutines → Client.post → chan Event → relay dispatcher
//
// The relay's dispatcher is the only consumer, so connection state and the
// message store have a single writer. Posting blocks rather than drops, so
// a slow consumer applies backpressure to paho instead of losing frames.
//
// # Reconnect
//
// The session is clean: the broker forgets subscriptions on disconnect.
// Consumers re-subscribe every time they see EventConnected.
//
// # Usage
//
//	client, err := mqtt.New(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	events := make(chan mqtt.Event, 256)
//	if err := client.Start(events); err != nil {
//	    return err
//	}
//	for ev := range events {
//	    if ev.Kind == mqtt.EventConnected {
//	        go client.Subscribe("iot/demo", 0)
//	    }
//	}
package mqtt
