// Package source defines the telemetry data source interface and a
// simulated implementation. A source exposes the sim SDK's named
// variables; mapping to the canonical sample schema happens in the
// acquisition package.
package source

import "github.com/racepulse/telemetry-relay-go/pkg/model"

// Source is the named-variable telemetry interface of the simulator.
// Get returns the current value of a tracked variable; the second
// return value is false when the variable is not available.
type Source interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	Get(name string) (any, bool)
	// SessionInfo returns the source's current session metadata, or
	// nil if no session is active.
	SessionInfo() *model.SessionDescriptor
}

// Variable names exposed by the sim SDK. The acquisition loop reads
// exactly this set each tick.
const (
	VarSessionTime    = "SessionTime"
	VarLap            = "Lap"
	VarLapDistPct     = "LapDistPct"
	VarLapDist        = "LapDist"
	VarSpeed          = "Speed"
	VarThrottle       = "Throttle"
	VarBrake          = "Brake"
	VarClutch         = "Clutch"
	VarSteering       = "SteeringWheelAngle"
	VarGear           = "Gear"
	VarRPM            = "RPM"
	VarFuelLevel      = "FuelLevel"
	VarFuelUsePerHour = "FuelUsePerHour"
	VarTireTempLF     = "LFtempCM"
	VarTireTempRF     = "RFtempCM"
	VarTireTempLR     = "LRtempCM"
	VarTireTempRR     = "RRtempCM"
	VarTireWearLF     = "LFwearM"
	VarTireWearRF     = "RFwearM"
	VarTireWearLR     = "LRwearM"
	VarTireWearRR     = "RRwearM"
	VarTirePressLF    = "LFpress"
	VarTirePressRF    = "RFpress"
	VarTirePressLR    = "LRpress"
	VarTirePressRR    = "RRpress"
	VarBrakeTempLF    = "LFbrakeTemp"
	VarBrakeTempRF    = "RFbrakeTemp"
	VarBrakeTempLR    = "LRbrakeTemp"
	VarBrakeTempRR    = "RRbrakeTemp"
	VarAccelLat       = "LatAccel"
	VarAccelLong      = "LongAccel"
	VarAccelVert      = "VertAccel"
	VarAirTemp        = "AirTemp"
	VarTrackTemp      = "TrackTempCrew"
	VarFlag           = "SessionFlags"
	VarOnTrack        = "IsOnTrack"
	VarOnPitRoad      = "OnPitRoad"
)
