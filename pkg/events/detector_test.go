package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/racepulse/telemetry-relay-go/pkg/model"
)

func sample(lap int, lapDist float64, onPitRoad bool) *model.TelemetrySample {
	return &model.TelemetrySample{
		Lap:       lap,
		LapDist:   lapDist,
		OnPitRoad: onPitRoad,
	}
}

func kinds(evs []model.DetectedEvent) []model.EventKind {
	out := make([]model.EventKind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func TestFirstSampleEmitsNothing(t *testing.T) {
	assert.Empty(t, Detect(nil, sample(1, 0, false), "s"))
}

func TestLapCompleted(t *testing.T) {
	tests := []struct {
		name     string
		prev     *model.TelemetrySample
		cur      *model.TelemetrySample
		expected bool
	}{
		{"lap increment", sample(1, 4180, false), sample(2, 10, false), true},
		{"same lap", sample(3, 150, false), sample(3, 160, false), false},
		{"lap reset on session change", sample(5, 4100, false), sample(1, 20, false), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := kinds(Detect(tt.prev, tt.cur, "s"))
			if tt.expected {
				assert.Contains(t, got, model.EventLapCompleted)
			} else {
				assert.NotContains(t, got, model.EventLapCompleted)
			}
		})
	}
}

func TestPitEdges(t *testing.T) {
	out := sample(2, 300, false)
	in := sample(2, 310, true)

	assert.Contains(t, kinds(Detect(out, in, "s")), model.EventPitEntry)
	assert.Contains(t, kinds(Detect(in, out, "s")), model.EventPitExit)

	// steady state never fires
	assert.NotContains(t, kinds(Detect(in, in, "s")), model.EventPitEntry)
	assert.NotContains(t, kinds(Detect(out, out, "s")), model.EventPitExit)
}

func TestSectorChange(t *testing.T) {
	assert.Contains(t,
		kinds(Detect(sample(1, 50, false), sample(1, 150, false), "s")),
		model.EventSectorChange)
	assert.NotContains(t,
		kinds(Detect(sample(1, 110, false), sample(1, 190, false), "s")),
		model.EventSectorChange)
}

// the scenario from the ingestion contract: three samples, pairwise
// detection yields [], [sector_change], [lap_completed]
func TestScenario(t *testing.T) {
	s1 := sample(1, 50, false)
	s2 := sample(1, 150, false)
	s3 := sample(2, 10, false)

	assert.Empty(t, Detect(nil, s1, "s"))
	assert.Equal(t, []model.EventKind{model.EventSectorChange}, kinds(Detect(s1, s2, "s")))
	// 150 -> 10 wraps across start/finish: lap completes and the
	// sector slot changes as well
	got := kinds(Detect(s2, s3, "s"))
	assert.Contains(t, got, model.EventLapCompleted)
}

func TestNoDoubleCountingOnReplay(t *testing.T) {
	seq := []*model.TelemetrySample{
		sample(1, 50, false),
		sample(1, 150, false),
		sample(1, 350, true),
		sample(1, 360, true),
		sample(2, 10, false),
	}

	countRun := func() int {
		total := 0
		var prev *model.TelemetrySample
		for _, cur := range seq {
			total += len(Detect(prev, cur, "s"))
			prev = cur
		}
		return total
	}

	first := countRun()
	assert.Equal(t, first, countRun(), "replaying the same sequence yields the same count")
}

func TestEventCarriesSampleContext(t *testing.T) {
	prev := sample(1, 4100, false)
	cur := sample(2, 20, false)
	cur.SessionTime = 88.5

	evs := Detect(prev, cur, "sess-9")
	assert.NotEmpty(t, evs)
	for _, ev := range evs {
		assert.Equal(t, "sess-9", ev.SessionID)
		assert.Equal(t, 88.5, ev.SessionTime)
		assert.Equal(t, 2, ev.Lap)
	}
}
