// Package wire implements the JSON message envelope codec used on all
// three transports. Envelopes are either raw JSON (websocket text
// frames) or deflate compressed JSON (binary frames and datagrams).
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/racepulse/telemetry-relay-go/pkg/model"
)

// Encode marshals msg to JSON. With compress set the payload is
// deflate compressed and meant to be sent as a binary frame/datagram.
func Encode(msg *model.Message, compress bool) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if !compress {
		return data, nil
	}
	return Deflate(data)
}

// Decode parses an envelope received as a text (raw JSON) or binary
// (deflate compressed) payload.
func Decode(payload []byte, binary bool) (*model.Message, error) {
	data := payload
	if binary {
		var err error
		if data, err = Inflate(payload); err != nil {
			return nil, err
		}
	}
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("decode message: missing type")
	}
	return &msg, nil
}

// DecodeAuto decodes a payload whose framing does not distinguish text
// from binary (UDP datagrams). Raw JSON starts with '{', possibly after
// insignificant whitespace; anything else is treated as deflate
// compressed.
func DecodeAuto(payload []byte) (*model.Message, error) {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decode message: empty payload")
	}
	return Decode(payload, trimmed[0] != '{')
}

// Deflate compresses data with the deflate algorithm.
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("deflate init: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("deflate write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("deflate close: %w", err)
	}
	return buf.Bytes(), nil
}

// Inflate decompresses a deflate compressed payload.
func Inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	return out, nil
}
