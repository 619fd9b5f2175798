// -----------------------------------------------------------------------
// Protocol Message - typed envelope for the real-time channel
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// MessageType identifies a real-time protocol message.
type MessageType string

const (
	MessageTypeFrame         MessageType = "frame"
	MessageTypePartialResult MessageType = "partial_result"
	MessageTypeProgress      MessageType = "progress"
	MessageTypePluginStatus  MessageType = "plugin_status"
	MessageTypeWarning       MessageType = "warning"
	MessageTypeError         MessageType = "error"
	MessageTypePing          MessageType = "ping"
	MessageTypePong          MessageType = "pong"
	MessageTypeMetadata      MessageType = "metadata"
)

// ProtocolMessage is the one-way envelope delivered to real-time subscribers.
// Messages are stateless and never persisted beyond delivery.
type ProtocolMessage struct {
	Type      MessageType `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage builds a protocol message stamped with the current time.
func NewMessage(t MessageType, payload interface{}) ProtocolMessage {
	return ProtocolMessage{
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// ProgressPayload is the payload of a "progress" message.
type ProgressPayload struct {
	JobID         string `json:"job_id"`
	Progress      int    `json:"progress"`
	ToolIndex     int    `json:"tool_index"`
	ToolID        string `json:"tool_id,omitempty"`
	ToolsTotal    int    `json:"tools_total"`
	ToolsComplete int    `json:"tools_completed"`
}

// StatusPayload is the payload of a "plugin_status" message.
type StatusPayload struct {
	JobID    string    `json:"job_id"`
	PluginID string    `json:"plugin_id"`
	Status   JobStatus `json:"status"`
	Progress *int      `json:"progress,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// MetadataPayload is sent once on every fresh subscription. Clients compare
// ServerInstanceID across reconnects to detect a server restart.
type MetadataPayload struct {
	JobID            string    `json:"job_id"`
	ServerInstanceID string    `json:"server_instance_id"`
	Status           JobStatus `json:"status"`
	Progress         *int      `json:"progress,omitempty"`
}

// LogPayload is the payload of "warning" and "error" messages carrying
// server-side log lines to subscribers.
type LogPayload struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}
