// Package mqtt connects droidpanel to an MQTT broker.
//
// Two flows use the broker:
//
//   - Bridge mirrors supervision events (spawn, restart, state, exit and
//     optionally rate-limited output lines) to droidpanel/unit/{registry}/{key}/{kind}.
//   - StopCommandHandler serves droidpanel/command/{registry}/{key}/stop so
//     other tools can stop a unit remotely.
//
// The client publishes a retained online/offline status on
// droidpanel/system/status and registers the offline status as its last
// will. Subscriptions are restored after a reconnect.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	bridge := mqtt.NewBridge(client, mqtt.BridgeConfig{QoS: client.QoS()})
//	go bridge.Run(ctx, bus.Subscribe(0, nil))
//
//	err = client.Subscribe(mqtt.Topics{}.AllStopCommands(), 1, mqtt.StopCommandHandler(stop))
package mqtt
