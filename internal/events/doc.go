// Package events carries supervision events from relays and supervisors to
// push consumers (the WebSocket hub, the MQTT bridge, telemetry).
//
// Publishing never blocks: a subscriber whose queue is full misses the
// event, so a slow consumer cannot stall an output relay.
package events
