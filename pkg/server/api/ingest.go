package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/racepulse/telemetry-relay-go/pkg/model"
)

const maxBodySize = 1 << 20

// handleCreateSession is the HTTP fallback for session_info. The body
// is either a full envelope or a bare session descriptor.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.readEnvelope(w, r, model.MessageSessionInfo)
	if !ok {
		return
	}
	s.reg.DispatchDatagram(r.Context(), r.RemoteAddr, msg)
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": msg.SessionID})
}

// handleIngestTelemetry is the HTTP fallback for telemetry samples.
func (s *Server) handleIngestTelemetry(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.readEnvelope(w, r, model.MessageTelemetry)
	if !ok {
		return
	}
	if id := r.PathValue("id"); msg.SessionID == "" {
		msg.SessionID = id
	}
	s.reg.DispatchDatagram(r.Context(), r.RemoteAddr, msg)
	w.WriteHeader(http.StatusAccepted)
}

// readEnvelope parses the request body into an envelope of the wanted
// type and stamps it with the (already validated) bearer key so the
// registry's stateless dispatch accepts it.
func (s *Server) readEnvelope(w http.ResponseWriter, r *http.Request,
	wantType model.MessageType,
) (*model.Message, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return nil, false
	}

	var msg model.Message
	if err := json.Unmarshal(body, &msg); err != nil || msg.Type == "" {
		// bare payload without envelope: wrap it
		msg = model.Message{
			Type: wantType,
			Data: json.RawMessage(body),
		}
		var probe struct {
			ID        string `json:"id"`
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(body, &probe); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return nil, false
		}
		if probe.ID != "" {
			msg.SessionID = probe.ID
		} else {
			msg.SessionID = probe.SessionID
		}
	}
	if msg.Type != wantType {
		writeError(w, http.StatusBadRequest, "unexpected message type")
		return nil, false
	}
	if msg.Events == nil {
		msg.Events = []string{}
	}
	msg.APIKey = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return &msg, true
}
