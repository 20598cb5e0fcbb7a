package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/log"
)

const (
	wsReadLimit    = 1 << 20
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 90 * time.Second
)

// wsRequest is one client message on the command channel.
type wsRequest struct {
	ID       string         `json:"id,omitempty"`
	Op       string         `json:"op"` // command, heartbeat, status, ping
	Command  *model.Command `json:"command,omitempty"`
	ClientID string         `json:"client_id,omitempty"`
}

// wsResponse answers a wsRequest, correlated by ID.
type wsResponse struct {
	ID     string `json:"id,omitempty"`
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   int    `json:"code,omitempty"`
}

// handleCommandSocket runs a persistent command channel over a websocket.
// Each message is handled in arrival order on the same goroutine, so a
// client sees responses in the order it sent requests.
func (s *Server) handleCommandSocket(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !s.pool.Has(key) {
		writeError(w, r, model.ErrSessionNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the failure response.
		return
	}
	defer func() { _ = conn.Close() }()

	logger := log.FromContext(r.Context()).With().
		Str(log.FieldSessionKey, key.String()).
		Logger()
	logger.Info().Msg("command socket opened")

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("command socket read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.wsReply(conn, wsResponse{OK: false, Error: "malformed message", Code: http.StatusBadRequest})
			continue
		}

		resp := s.wsHandle(r, key, req)
		if !s.wsReply(conn, resp) {
			return
		}
	}
}

func (s *Server) wsHandle(r *http.Request, key model.Key, req wsRequest) wsResponse {
	fail := func(err error) wsResponse {
		return wsResponse{ID: req.ID, OK: false, Error: err.Error(), Code: statusFor(err)}
	}

	switch req.Op {
	case "ping":
		return wsResponse{ID: req.ID, OK: true, Result: "pong"}

	case "heartbeat":
		if req.ClientID == "" {
			return wsResponse{ID: req.ID, OK: false, Error: "client_id required", Code: http.StatusBadRequest}
		}
		ack, err := s.pool.Heartbeat(key, req.ClientID)
		if err != nil {
			return fail(err)
		}
		return wsResponse{ID: req.ID, OK: true, Result: heartbeatAck(ack)}

	case "status":
		sess, err := s.pool.Get(key)
		if err != nil {
			return fail(err)
		}
		return wsResponse{ID: req.ID, OK: true, Result: sess.Status()}

	case "command":
		if req.Command == nil {
			return wsResponse{ID: req.ID, OK: false, Error: "command required", Code: http.StatusBadRequest}
		}
		res, err := s.disp.Dispatch(r.Context(), key, *req.Command)
		if err != nil {
			return fail(err)
		}
		return wsResponse{ID: req.ID, OK: true, Result: commandResponse{
			Kind:       res.Kind,
			Data:       res.Data,
			DurationMS: float64(res.Duration.Milliseconds()),
		}}

	default:
		return wsResponse{ID: req.ID, OK: false, Error: "unknown op", Code: http.StatusBadRequest}
	}
}

// wsReply writes resp and reports whether the connection is still usable.
func (s *Server) wsReply(conn *websocket.Conn, resp wsResponse) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(resp) == nil
}
