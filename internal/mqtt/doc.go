// Package mqtt mirrors audit records to an MQTT broker and announces the
// orchestrator as a Home Assistant device.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for connection
// management with automatic reconnection. On every (re-)connect it
// publishes retained discovery config payloads and a birth message
// ("online") to the availability topic. A will message moves the
// availability topic to "offline" on unexpected disconnects.
package mqtt
