package model

import "time"

// FlagState describes the session flag condition at sample time.
type FlagState string

const (
	FlagNone      FlagState = "none"
	FlagGreen     FlagState = "green"
	FlagYellow    FlagState = "yellow"
	FlagRed       FlagState = "red"
	FlagWhite     FlagState = "white"
	FlagBlue      FlagState = "blue"
	FlagCheckered FlagState = "checkered"
)

// Corners holds one value per tire/brake position.
type Corners struct {
	LF float64 `json:"lf"`
	RF float64 `json:"rf"`
	LR float64 `json:"lr"`
	RR float64 `json:"rr"`
}

// TelemetrySample is one snapshot of vehicle and session state.
// Samples are created once per acquisition tick and never mutated
// afterwards. Fields the source cannot provide default to their zero
// value (0, false, FlagNone).
type TelemetrySample struct {
	SessionTime float64   `json:"session_time"` // session relative, seconds
	RecordedAt  time.Time `json:"recorded_at"`  // wall clock, used for storage keys
	Lap         int       `json:"lap"`
	LapDistPct  float64   `json:"lap_dist_pct"` // [0,1)
	LapDist     float64   `json:"lap_dist"`     // meters from start/finish line

	Speed    float64 `json:"speed"` // m/s
	Throttle float64 `json:"throttle"`
	Brake    float64 `json:"brake"`
	Clutch   float64 `json:"clutch"`
	Steering float64 `json:"steering"` // signed, radians
	Gear     int     `json:"gear"`
	RPM      float64 `json:"rpm"`

	FuelLevel   float64 `json:"fuel_level"` // liters
	FuelPerHour float64 `json:"fuel_per_hour"`

	TireTemp     Corners `json:"tire_temp"`
	TireWear     Corners `json:"tire_wear"`
	TirePressure Corners `json:"tire_pressure"`
	BrakeTemp    Corners `json:"brake_temp"`

	AccelLat  float64 `json:"accel_lat"`
	AccelLong float64 `json:"accel_long"`
	AccelVert float64 `json:"accel_vert"`

	AirTemp   float64 `json:"air_temp"`
	TrackTemp float64 `json:"track_temp"`

	Flag      FlagState `json:"flag"`
	OnTrack   bool      `json:"on_track"`
	OnPitRoad bool      `json:"on_pit_road"`
}
