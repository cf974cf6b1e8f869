// Package relay implements the device relay: the single broker connection,
// the bounded message history, control-message filtering and the publish
// path used by the HTTP layer.
//
// # Architecture
//
//	mqtt.Client ──events──▶ dispatcher ──▶ Store (history, latest)
//	                            │
//	                            └──▶ Listeners (websocket hub, metrics)
//
//	HTTP handlers ──▶ Status / PeekLatest / VisibleHistory   (readers)
//	HTTP handlers ──▶ Publish / SendChat ──▶ Transport.Publish
//
// The dispatcher goroutine is the only writer of connection state and of
// the store. Everything else reads under a read lock and receives copies.
//
// # Classification
//
// Control traffic (mode-switch commands for the device) is hidden from the
// chat view but still recorded: PeekLatest returns it, VisibleHistory does
// not. See IsControl for the rule.
//
// # Usage
//
//	r := relay.New(relay.ConfigFrom(cfg), mqttClient)
//	r.SetLogger(log)
//	if err := r.Start(ctx); err != nil {
//	    return err
//	}
//	defer r.Close()
//
//	receipt, err := r.Publish(ctx, relay.PublishRequest{Message: "MODE:quiet"})
package relay
