// Package channel implements outbound telemetry channels:
// MQTT broker session, dashboard socket and dashboard HTTP endpoint.
//
// Channels do not track connection state, callers own conn.State
// and clear the matching flag when Send returns error.
package channel

import "github.com/krti/uavlink/internal/conn"

const (
	EventTelemetry  = "telemetry"
	EventCommand    = "command"
	EventCommandAck = "command_ack"

	// inbound messages above this size are dropped
	MaxInboundSize = 512
)

// CommandSink receives raw inbound command payloads.
// Called from channel reader goroutines, must not block for long.
type CommandSink func(source conn.Channel, payload []byte)
