package acquisition

import (
	"time"

	"github.com/racepulse/telemetry-relay-go/pkg/model"
	"github.com/racepulse/telemetry-relay-go/pkg/source"
)

// readSample reads every tracked variable from the source and maps the
// SDK naming onto the canonical sample schema. Missing variables
// default to their zero value; a partially populated sample is
// preferred over no sample.
func readSample(src source.Source) *model.TelemetrySample {
	return &model.TelemetrySample{
		SessionTime: floatVar(src, source.VarSessionTime),
		RecordedAt:  time.Now(),
		Lap:         intVar(src, source.VarLap),
		LapDistPct:  floatVar(src, source.VarLapDistPct),
		LapDist:     floatVar(src, source.VarLapDist),
		Speed:       floatVar(src, source.VarSpeed),
		Throttle:    floatVar(src, source.VarThrottle),
		Brake:       floatVar(src, source.VarBrake),
		Clutch:      floatVar(src, source.VarClutch),
		Steering:    floatVar(src, source.VarSteering),
		Gear:        intVar(src, source.VarGear),
		RPM:         floatVar(src, source.VarRPM),
		FuelLevel:   floatVar(src, source.VarFuelLevel),
		FuelPerHour: floatVar(src, source.VarFuelUsePerHour),
		TireTemp: model.Corners{
			LF: floatVar(src, source.VarTireTempLF),
			RF: floatVar(src, source.VarTireTempRF),
			LR: floatVar(src, source.VarTireTempLR),
			RR: floatVar(src, source.VarTireTempRR),
		},
		TireWear: model.Corners{
			LF: floatVar(src, source.VarTireWearLF),
			RF: floatVar(src, source.VarTireWearRF),
			LR: floatVar(src, source.VarTireWearLR),
			RR: floatVar(src, source.VarTireWearRR),
		},
		TirePressure: model.Corners{
			LF: floatVar(src, source.VarTirePressLF),
			RF: floatVar(src, source.VarTirePressRF),
			LR: floatVar(src, source.VarTirePressLR),
			RR: floatVar(src, source.VarTirePressRR),
		},
		BrakeTemp: model.Corners{
			LF: floatVar(src, source.VarBrakeTempLF),
			RF: floatVar(src, source.VarBrakeTempRF),
			LR: floatVar(src, source.VarBrakeTempLR),
			RR: floatVar(src, source.VarBrakeTempRR),
		},
		AccelLat:  floatVar(src, source.VarAccelLat),
		AccelLong: floatVar(src, source.VarAccelLong),
		AccelVert: floatVar(src, source.VarAccelVert),
		AirTemp:   floatVar(src, source.VarAirTemp),
		TrackTemp: floatVar(src, source.VarTrackTemp),
		Flag:      flagVar(src, source.VarFlag),
		OnTrack:   boolVar(src, source.VarOnTrack),
		OnPitRoad: boolVar(src, source.VarOnPitRoad),
	}
}

func floatVar(src source.Source, name string) float64 {
	v, ok := src.Get(name)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}

func intVar(src source.Source, name string) int {
	v, ok := src.Get(name)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case int:
		return t
	case int32:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}

func boolVar(src source.Source, name string) bool {
	v, ok := src.Get(name)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func flagVar(src source.Source, name string) model.FlagState {
	v, ok := src.Get(name)
	if !ok {
		return model.FlagNone
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return model.FlagNone
	}
	return model.FlagState(s)
}
