// Package events derives discrete events from consecutive telemetry
// samples. Detection is a pure function of the sample pair; the caller
// owns the previous-sample memory.
package events

import (
	"math"

	"github.com/racepulse/telemetry-relay-go/pkg/model"
)

// SectorLength is the fixed sector size in meters used for
// sector_change detection. A sector boundary is crossed whenever the
// lap distance moves into a different SectorLength-sized slot.
const SectorLength = 100.0

// Detect compares prev and cur and returns the events that fired on
// this transition. With prev == nil (first sample of a session) no
// events are emitted. All rules are evaluated independently; several
// events may fire on the same pair.
func Detect(prev, cur *model.TelemetrySample, sessionID string) []model.DetectedEvent {
	if prev == nil || cur == nil {
		return nil
	}

	var out []model.DetectedEvent
	emit := func(kind model.EventKind) {
		out = append(out, model.DetectedEvent{
			Kind:        kind,
			SessionID:   sessionID,
			SessionTime: cur.SessionTime,
			Lap:         cur.Lap,
		})
	}

	if prev.Lap != cur.Lap {
		emit(model.EventLapCompleted)
	}
	if !prev.OnPitRoad && cur.OnPitRoad {
		emit(model.EventPitEntry)
	}
	if prev.OnPitRoad && !cur.OnPitRoad {
		emit(model.EventPitExit)
	}
	if math.Floor(prev.LapDist/SectorLength) != math.Floor(cur.LapDist/SectorLength) {
		emit(model.EventSectorChange)
	}
	return out
}
