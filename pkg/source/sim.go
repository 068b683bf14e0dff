package source

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/racepulse/telemetry-relay-go/pkg/model"
)

// SimSource generates a plausible lap trace with the same interface as
// the live sim SDK. It is used when no simulator is running and as the
// test double for the acquisition loop.
type SimSource struct {
	mu          sync.Mutex
	connected   bool
	session     *model.SessionDescriptor
	start       time.Time
	trackLength float64
	baseSpeed   float64 // m/s
	fuelStart   float64
	pitEvery    int // enter the pit lane every n-th lap
	overlay     *model.SessionDescriptor
	rnd         *rand.Rand
}

type SimOption func(*SimSource)

func WithTrackLength(meters float64) SimOption {
	return func(s *SimSource) { s.trackLength = meters }
}

func WithBaseSpeed(ms float64) SimOption {
	return func(s *SimSource) { s.baseSpeed = ms }
}

func WithPitEvery(laps int) SimOption {
	return func(s *SimSource) { s.pitEvery = laps }
}

// WithSessionOverlay merges the given metadata over the generated
// session descriptor on connect.
func WithSessionOverlay(desc *model.SessionDescriptor) SimOption {
	return func(s *SimSource) { s.overlay = desc }
}

func NewSimSource(opts ...SimOption) *SimSource {
	s := &SimSource{
		trackLength: 4200,
		baseSpeed:   52,
		fuelStart:   45,
		pitEvery:    0,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SimSource) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	s.connected = true
	s.start = time.Now()
	now := time.Now()
	s.session = &model.SessionDescriptor{
		ID:          uuid.NewString(),
		DriverName:  "Sim Driver",
		TrackName:   "Simulated Circuit",
		TrackConfig: "Grand Prix",
		TrackLength: s.trackLength,
		CarName:     "Simulated GT3",
		CarClass:    "GT3",
		SessionType: "practice",
		Created:     now,
		Updated:     now,
	}
	if s.overlay != nil {
		if s.overlay.ID != "" {
			s.session.ID = s.overlay.ID
		}
		if s.overlay.TrackLength > 0 {
			s.trackLength = s.overlay.TrackLength
		}
		s.session.Merge(s.overlay)
	}
	return nil
}

func (s *SimSource) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

func (s *SimSource) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *SimSource) SessionInfo() *model.SessionDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	return s.session
}

// Get computes the variable value from elapsed wall time. The car runs
// at baseSpeed modulated along the lap; every pitEvery-th lap it runs
// the full lap at pit speed with OnPitRoad set.
//
//nolint:cyclop // plain variable switch
func (s *SimSource) Get(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, false
	}

	elapsed := time.Since(s.start).Seconds()
	lapTime := s.trackLength / s.baseSpeed
	lap := int(elapsed/lapTime) + 1
	lapFrac := math.Mod(elapsed, lapTime) / lapTime
	inPit := s.pitEvery > 0 && lap%s.pitEvery == 0

	speed := s.baseSpeed * (0.75 + 0.25*math.Sin(lapFrac*2*math.Pi))
	if inPit {
		speed = 22 // pit lane limit
	}

	switch name {
	case VarSessionTime:
		return elapsed, true
	case VarLap:
		return lap, true
	case VarLapDistPct:
		return lapFrac, true
	case VarLapDist:
		return lapFrac * s.trackLength, true
	case VarSpeed:
		return speed, true
	case VarThrottle:
		return clamp01(0.5 + 0.5*math.Sin(lapFrac*4*math.Pi)), true
	case VarBrake:
		return clamp01(-math.Sin(lapFrac * 4 * math.Pi)), true
	case VarClutch:
		return 0.0, true
	case VarSteering:
		return 0.4 * math.Sin(lapFrac*6*math.Pi), true
	case VarGear:
		return 2 + int(speed/15), true
	case VarRPM:
		return 4500 + 3000*math.Sin(lapFrac*4*math.Pi), true
	case VarFuelLevel:
		return math.Max(0, s.fuelStart-2.6*elapsed/lapTime), true
	case VarFuelUsePerHour:
		return 2.6 * 3600 / lapTime, true
	case VarTireTempLF, VarTireTempRF, VarTireTempLR, VarTireTempRR:
		return 82 + 6*s.rnd.Float64(), true
	case VarTireWearLF, VarTireWearRF, VarTireWearLR, VarTireWearRR:
		return math.Max(0.6, 1-0.002*float64(lap)), true
	case VarTirePressLF, VarTirePressRF, VarTirePressLR, VarTirePressRR:
		return 165 + 4*s.rnd.Float64(), true
	case VarBrakeTempLF, VarBrakeTempRF, VarBrakeTempLR, VarBrakeTempRR:
		return 320 + 120*math.Abs(math.Sin(lapFrac*4*math.Pi)), true
	case VarAccelLat:
		return 2.2 * math.Sin(lapFrac*6*math.Pi), true
	case VarAccelLong:
		return 1.4 * math.Cos(lapFrac*4*math.Pi), true
	case VarAccelVert:
		return 9.81 + 0.2*s.rnd.Float64(), true
	case VarAirTemp:
		return 21.5, true
	case VarTrackTemp:
		return 31.0, true
	case VarFlag:
		return string(model.FlagGreen), true
	case VarOnTrack:
		return !inPit, true
	case VarOnPitRoad:
		return inPit, true
	default:
		return nil, false
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

var _ Source = (*SimSource)(nil)
