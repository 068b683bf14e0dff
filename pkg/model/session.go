package model

import "time"

// SessionDescriptor holds the metadata for one racing session
// (practice/qualify/race instance). The ID is assigned by the producer
// and immutable once set.
type SessionDescriptor struct {
	ID          string         `json:"id"`
	DriverName  string         `json:"driver_name"`
	TrackName   string         `json:"track_name"`
	TrackConfig string         `json:"track_config"`
	TrackLength float64        `json:"track_length"` // meters
	CarName     string         `json:"car_name"`
	CarClass    string         `json:"car_class"`
	SessionType string         `json:"session_type"` // practice, qualify, race
	Created     time.Time      `json:"created"`
	Updated     time.Time      `json:"updated"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Merge applies non-empty fields of other onto s. The ID is never
// changed. Concurrent session_info messages for the same session
// resolve last-write-wins.
func (s *SessionDescriptor) Merge(other *SessionDescriptor) {
	if other.DriverName != "" {
		s.DriverName = other.DriverName
	}
	if other.TrackName != "" {
		s.TrackName = other.TrackName
	}
	if other.TrackConfig != "" {
		s.TrackConfig = other.TrackConfig
	}
	if other.TrackLength > 0 {
		s.TrackLength = other.TrackLength
	}
	if other.CarName != "" {
		s.CarName = other.CarName
	}
	if other.CarClass != "" {
		s.CarClass = other.CarClass
	}
	if other.SessionType != "" {
		s.SessionType = other.SessionType
	}
	if len(other.Extra) > 0 {
		if s.Extra == nil {
			s.Extra = make(map[string]any, len(other.Extra))
		}
		for k, v := range other.Extra {
			s.Extra[k] = v
		}
	}
	s.Updated = time.Now()
}
