package server

import (
	"net"
	"net/http"

	"github.com/cinematic-site/cinematic-go/internal/schema"
	"go.opentelemetry.io/otel/attribute"
)

type onlineHeartbeatRequest struct {
	SessionID string `json:"sessionId"`
}

// handleOnlineHeartbeat handles POST /api/online/heartbeat. Visitors without
// a session id are tracked by client IP.
func (m *Mux) handleOnlineHeartbeat(w http.ResponseWriter, r *http.Request) {
	_, span := m.tracer.Start(r.Context(), "handleOnlineHeartbeat")
	defer span.End()

	var req onlineHeartbeatRequest
	if !m.readBody(w, r, schema.OnlineHeartbeat, &req) {
		return
	}
	session := req.SessionID
	if session == "" {
		session = clientIP(r)
	}

	online := m.Presence.Heartbeat(session)
	span.SetAttributes(attribute.Int("online", online))
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"online": online})
}

// handleOnlineCount handles GET /api/online/count
func (m *Mux) handleOnlineCount(w http.ResponseWriter, r *http.Request) {
	_, span := m.tracer.Start(r.Context(), "handleOnlineCount")
	defer span.End()

	m.writeJSON(w, http.StatusOK, map[string]int{"online": m.Presence.Count()})
}

// clientIP strips the port from the remote address set by RealIP.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
