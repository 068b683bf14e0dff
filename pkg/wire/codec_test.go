package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racepulse/telemetry-relay-go/pkg/model"
)

func sampleMessage() *model.Message {
	sample := &model.TelemetrySample{
		SessionTime: 123.45,
		Lap:         3,
		LapDist:     1540.2,
		Speed:       62.1,
		OnPitRoad:   false,
		Flag:        model.FlagGreen,
	}
	msg, _ := model.TelemetryMessage("sess-1", sample, []model.DetectedEvent{
		{Kind: model.EventLapCompleted, SessionID: "sess-1", Lap: 3},
	})
	return msg
}

func TestRoundTripUncompressed(t *testing.T) {
	msg := sampleMessage()
	payload, err := Encode(msg, false)
	require.NoError(t, err)

	got, err := Decode(payload, false)
	require.NoError(t, err)
	assert.Equal(t, msg.Type, got.Type)
	assert.Equal(t, msg.SessionID, got.SessionID)
	assert.Equal(t, msg.Events, got.Events)
	assert.JSONEq(t, string(msg.Data), string(got.Data))
}

func TestRoundTripCompressed(t *testing.T) {
	msg := sampleMessage()
	plain, err := Encode(msg, false)
	require.NoError(t, err)
	compressed, err := Encode(msg, true)
	require.NoError(t, err)

	inflated, err := Inflate(compressed)
	require.NoError(t, err)
	assert.Equal(t, plain, inflated)

	got, err := Decode(compressed, true)
	require.NoError(t, err)
	assert.Equal(t, msg.SessionID, got.SessionID)
	assert.Equal(t, msg.Timestamp, got.Timestamp)
}

func TestDecodeAuto(t *testing.T) {
	msg := sampleMessage()

	plain, err := Encode(msg, false)
	require.NoError(t, err)
	compressed, err := Encode(msg, true)
	require.NoError(t, err)

	for _, payload := range [][]byte{plain, compressed} {
		got, err := DecodeAuto(payload)
		require.NoError(t, err)
		assert.Equal(t, model.MessageTelemetry, got.Type)
	}

	// leading whitespace must not push valid JSON onto the inflate path
	padded := append([]byte(" \n\t"), plain...)
	got, err := DecodeAuto(padded)
	require.NoError(t, err)
	assert.Equal(t, msg.SessionID, got.SessionID)

	_, err = DecodeAuto([]byte("  \n "))
	assert.Error(t, err)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("{not json"), false)
	assert.Error(t, err)

	_, err = Decode([]byte(`{"session_id":"x"}`), false)
	assert.Error(t, err, "missing type must be rejected")

	_, err = DecodeAuto(nil)
	assert.Error(t, err)
}
