package client

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/racepulse/telemetry-relay-go/pkg/model"
)

// sessionFile is the yaml shape of --session-file. All fields are
// optional; set ones override the generated session metadata.
type sessionFile struct {
	ID          string         `yaml:"id"`
	DriverName  string         `yaml:"driverName"`
	TrackName   string         `yaml:"trackName"`
	TrackConfig string         `yaml:"trackConfig"`
	TrackLength float64        `yaml:"trackLength"`
	CarName     string         `yaml:"carName"`
	CarClass    string         `yaml:"carClass"`
	SessionType string         `yaml:"sessionType"`
	Extra       map[string]any `yaml:"extra"`
}

func loadSessionFile(path string) (*model.SessionDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sf sessionFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, err
	}
	return &model.SessionDescriptor{
		ID:          sf.ID,
		DriverName:  sf.DriverName,
		TrackName:   sf.TrackName,
		TrackConfig: sf.TrackConfig,
		TrackLength: sf.TrackLength,
		CarName:     sf.CarName,
		CarClass:    sf.CarClass,
		SessionType: sf.SessionType,
		Extra:       sf.Extra,
	}, nil
}
