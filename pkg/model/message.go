package model

import "encoding/json"

// MessageType discriminates the wire envelope payload.
type MessageType string

const (
	MessageSessionInfo MessageType = "session_info"
	MessageTelemetry   MessageType = "telemetry"
)

// Message is the wire envelope used on all three transports. Data
// carries either session metadata or the sample fields; Events lists
// the event kind names detected together with a telemetry sample.
// APIKey is only required on the first message of a connection.
type Message struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Timestamp float64         `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Events    []string        `json:"events"`
	APIKey    string          `json:"api_key,omitempty"`
}

// SessionInfoMessage builds a session_info envelope.
func SessionInfoMessage(sess *SessionDescriptor, apiKey string) (*Message, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      MessageSessionInfo,
		SessionID: sess.ID,
		Data:      data,
		Events:    []string{},
		APIKey:    apiKey,
	}, nil
}

// TelemetryMessage builds a telemetry envelope for one sample and the
// events detected on it.
func TelemetryMessage(sessionID string, sample *TelemetrySample, events []DetectedEvent) (*Message, error) {
	data, err := json.Marshal(sample)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = string(ev.Kind)
	}
	return &Message{
		Type:      MessageTelemetry,
		SessionID: sessionID,
		Timestamp: sample.SessionTime,
		Data:      data,
		Events:    names,
	}, nil
}
