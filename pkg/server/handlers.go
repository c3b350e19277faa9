package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kokoro-ai/kokoro/pkg/proactive"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

const maxBodyBytes = 1 << 20 // 1 MiB

type errorBody struct {
	Error string `json:"error"`
}

// messageRequest is the inbound chat message envelope.
type messageRequest struct {
	TenantID   string `json:"tenant_id"`
	RoomID     string `json:"room_id"`
	UserID     string `json:"user_id"`
	SenderName string `json:"sender_name,omitempty"`
	Text       string `json:"text"`
}

func (r *messageRequest) validate() string {
	switch {
	case r.TenantID == "":
		return "tenant_id is required"
	case r.RoomID == "":
		return "room_id is required"
	case r.UserID == "":
		return "user_id is required"
	case r.Text == "":
		return "text is required"
	default:
		return ""
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
		return
	}

	resp, err := s.brain.Process(r.Context(), protocol.Message{
		TenantID:   req.TenantID,
		RoomID:     req.RoomID,
		UserID:     req.UserID,
		SenderName: req.SenderName,
		Text:       req.Text,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		s.logger.Error("message processing failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "processing failed"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// proactiveRequest is a system-originated trigger. It traverses the same
// authorization gate as user messages; dropped triggers return 202 with
// no body so callers cannot distinguish why.
type proactiveRequest struct {
	TenantID string         `json:"tenant_id"`
	RoomID   string         `json:"room_id"`
	UserID   string         `json:"user_id"`
	Action   string         `json:"action"`
	Params   map[string]any `json:"params,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

func (s *Server) handleProactive(w http.ResponseWriter, r *http.Request) {
	var req proactiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TenantID == "" || req.Action == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "tenant_id and action are required"})
		return
	}

	resp, err := s.generator.Run(r.Context(), proactive.Trigger{
		Tenant: req.TenantID,
		RoomID: req.RoomID,
		UserID: req.UserID,
		Action: req.Action,
		Params: req.Params,
		Reason: req.Reason,
	})
	if err != nil {
		s.logger.Error("proactive trigger failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "trigger failed"})
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}
