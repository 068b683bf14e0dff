package model

// EventKind identifies a discrete occurrence derived from comparing
// consecutive telemetry samples.
type EventKind string

const (
	EventLapCompleted EventKind = "lap_completed"
	EventPitEntry     EventKind = "pit_entry"
	EventPitExit      EventKind = "pit_exit"
	EventSectorChange EventKind = "sector_change"
)

// DetectedEvent is emitted by the event detector. Exactly one event of
// a given kind is emitted per qualifying sample transition.
type DetectedEvent struct {
	Kind        EventKind `json:"kind"`
	SessionID   string    `json:"session_id"`
	SessionTime float64   `json:"session_time"` // originating sample
	Lap         int       `json:"lap"`
}
