package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"codeshare/internal/broadcast"
	"codeshare/internal/presence"
	"codeshare/internal/registry"
	"codeshare/internal/tasks"
	"codeshare/pkg/interfaces"
	"codeshare/pkg/types"
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy belongs to the deployment proxy.
		return true
	},
}

// joinableConn is what dispatch needs from a connection: the shared
// Conn contract plus the one-time identity stamp set during join.
type joinableConn interface {
	interfaces.Conn
	Join(userID, role, sessionCode string)
}

// client is the per-connection dispatch state. joined flips after a
// successful join-session and gates every other event.
type client struct {
	conn   joinableConn
	joined bool
}

// Handler upgrades websocket requests and routes client events to the
// session components.
type Handler struct {
	registry *registry.Registry
	presence *presence.Manager
	router   *broadcast.Router
	engine   *tasks.Engine

	writeBuffer  int
	pingInterval time.Duration
	pongTimeout  time.Duration
	log          zerolog.Logger
}

// NewHandler wires the websocket entrypoint.
func NewHandler(reg *registry.Registry, pres *presence.Manager, router *broadcast.Router, engine *tasks.Engine, writeBuffer int, pingInterval, pongTimeout time.Duration, log zerolog.Logger) *Handler {
	return &Handler{
		registry:     reg,
		presence:     pres,
		router:       router,
		engine:       engine,
		writeBuffer:  writeBuffer,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		log:          log.With().Str("component", "websocket").Logger(),
	}
}

// ServeHTTP upgrades the request and runs the connection until it
// drops. Authentication happens in-band: the first event must be
// join-session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(ws, h.writeBuffer)
	h.runConnection(conn, ws)
}

func (h *Handler) runConnection(conn *Connection, ws *websocket.Conn) {
	cl := &client{conn: conn}
	defer func() {
		if cl.joined {
			h.presence.Disconnect(conn)
		}
		_ = conn.Close()
	}()

	_ = ws.SetReadDeadline(time.Now().Add(h.pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.pongTimeout))
	})

	go h.pingLoop(conn, ws)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("conn", conn.ConnID()).Msg("read failed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.router.SendError(conn, "malformed event")
			continue
		}
		h.dispatch(cl, env)
	}
}

func (h *Handler) pingLoop(conn *Connection, ws *websocket.Conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-conn.ctx.Done():
			return
		}
	}
}

// dispatch routes one client event. The event set is closed: anything
// unrecognized earns an error event, never a silent drop, so client
// bugs surface immediately.
func (h *Handler) dispatch(cl *client, env types.Envelope) {
	if !cl.joined && env.Event != types.EventJoinSession {
		h.router.SendError(cl.conn, "join a session first")
		return
	}

	switch env.Event {
	case types.EventJoinSession:
		h.handleJoin(cl, env.Data)
	case types.EventCodeUpdate:
		h.handleCodeUpdate(cl, env.Data)
	case types.EventUpdateTemplate:
		h.handleUpdateTemplate(cl, env.Data)
	case types.EventSetTask:
		h.handleSetTask(cl, env.Data)
	case types.EventSendHint:
		h.handleSendHint(cl, env.Data)
	case types.EventGetStudentCode:
		h.handleGetStudentCode(cl, env.Data)
	case types.EventLeaveSession:
		h.handleLeave(cl)
	default:
		h.router.SendError(cl.conn, "unknown event: "+env.Event)
	}
}

type joinPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Role      string `json:"role"`
}

func (h *Handler) handleJoin(cl *client, data json.RawMessage) {
	if cl.joined {
		h.router.SendError(cl.conn, "already joined")
		return
	}

	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.router.SendError(cl.conn, "malformed join payload")
		return
	}

	code := strings.ToUpper(strings.TrimSpace(p.SessionID))
	if !types.IsValidSessionCode(code) {
		h.router.SendError(cl.conn, "invalid session code")
		return
	}
	if p.Role != types.RoleTeacher && p.Role != types.RoleStudent {
		h.router.SendError(cl.conn, "role must be teacher or student")
		return
	}
	if p.UserID == "" {
		h.router.SendError(cl.conn, "missing user id")
		return
	}

	cl.conn.Join(p.UserID, p.Role, code)

	switch p.Role {
	case types.RoleTeacher:
		sess, err := h.presence.JoinTeacher(cl.conn)
		if err != nil {
			h.router.SendError(cl.conn, err.Error())
			_ = cl.conn.Close()
			return
		}
		cl.joined = true
		h.send(cl.conn, types.EventStudentsList, sess.StudentSummaries())

	case types.RoleStudent:
		st, sess, rejoined, err := h.presence.JoinStudent(cl.conn)
		if err != nil {
			h.router.SendError(cl.conn, err.Error())
			_ = cl.conn.Close()
			return
		}
		cl.joined = true

		snap := sess.Snapshot()
		h.send(cl.conn, types.EventInitialData, struct {
			CodeTemplate  string `json:"codeTemplate"`
			Points        int    `json:"points"`
			CurrentTaskID int    `json:"currentTaskId"`
		}{CodeTemplate: snap.Template, Points: st.Points, CurrentTaskID: snap.CurrentTaskID})

		if !rejoined {
			h.router.SessionWide(sess.ID(), types.EventStudentJoined, struct {
				StudentID   string `json:"studentId"`
				StudentName string `json:"studentName"`
				Points      int    `json:"points"`
			}{StudentID: st.ID, StudentName: st.Name, Points: st.Points})
		}
	}
}

func (h *Handler) handleCodeUpdate(cl *client, data json.RawMessage) {
	if cl.conn.Role() != types.RoleStudent {
		h.router.SendError(cl.conn, "only students send code updates")
		return
	}

	var p struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		h.router.SendError(cl.conn, "malformed code payload")
		return
	}

	sess, ok := h.registry.Lookup(cl.conn.SessionCode())
	if !ok {
		h.router.SendError(cl.conn, "session no longer active")
		return
	}
	seq, err := sess.SetStudentCode(cl.conn.UserID(), p.Code)
	if err != nil {
		h.router.SendError(cl.conn, err.Error())
		return
	}
	h.router.CodeUpdate(sess.ID(), cl.conn.UserID(), p.Code, seq)
}

func (h *Handler) handleUpdateTemplate(cl *client, data json.RawMessage) {
	if cl.conn.Role() != types.RoleTeacher {
		h.router.SendError(cl.conn, "only the teacher updates the template")
		return
	}

	var p struct {
		Template string `json:"template"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		h.router.SendError(cl.conn, "malformed template payload")
		return
	}

	sess, ok := h.registry.Lookup(cl.conn.SessionCode())
	if !ok {
		h.router.SendError(cl.conn, "session no longer active")
		return
	}
	tmpl := sess.SetTemplate(p.Template)
	h.router.ToStudents(sess.ID(), types.EventTemplateUpdated, tmpl)
}

func (h *Handler) handleSetTask(cl *client, data json.RawMessage) {
	if cl.conn.Role() != types.RoleTeacher {
		h.router.SendError(cl.conn, "only the teacher assigns tasks")
		return
	}

	var p struct {
		TaskID int `json:"taskId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		h.router.SendError(cl.conn, "malformed task payload")
		return
	}

	task, ok := h.engine.Catalog().Get(p.TaskID)
	if !ok {
		h.router.SendError(cl.conn, "unknown task")
		return
	}
	sess, ok := h.registry.Lookup(cl.conn.SessionCode())
	if !ok {
		h.router.SendError(cl.conn, "session no longer active")
		return
	}
	sess.SetCurrentTask(task.ID)
	h.router.ToStudents(sess.ID(), types.EventTaskAssigned, struct {
		Task types.Task `json:"task"`
	}{Task: task})
}

func (h *Handler) handleSendHint(cl *client, data json.RawMessage) {
	if cl.conn.Role() != types.RoleTeacher {
		h.router.SendError(cl.conn, "only the teacher sends hints")
		return
	}

	var p struct {
		StudentID string `json:"studentId"`
		Hint      string `json:"hint"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		h.router.SendError(cl.conn, "malformed hint payload")
		return
	}
	if strings.TrimSpace(p.Hint) == "" {
		h.router.SendError(cl.conn, "hint is empty")
		return
	}

	h.router.ToStudent(cl.conn.SessionCode(), p.StudentID, types.EventReceiveHint, struct {
		Hint string `json:"hint"`
	}{Hint: p.Hint})
}

func (h *Handler) handleGetStudentCode(cl *client, data json.RawMessage) {
	if cl.conn.Role() != types.RoleTeacher {
		h.router.SendError(cl.conn, "only the teacher requests student code")
		return
	}

	var p struct {
		StudentID string `json:"studentId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		h.router.SendError(cl.conn, "malformed payload")
		return
	}

	sess, ok := h.registry.Lookup(cl.conn.SessionCode())
	if !ok {
		h.router.SendError(cl.conn, "session no longer active")
		return
	}
	st, ok := sess.Student(p.StudentID)
	if !ok {
		h.router.SendError(cl.conn, "student not found")
		return
	}
	h.send(cl.conn, types.EventStudentCode, struct {
		StudentID string `json:"studentId"`
		Code      string `json:"code"`
		Points    int    `json:"points"`
	}{StudentID: st.ID, Code: st.Code, Points: st.Points})
}

func (h *Handler) handleLeave(cl *client) {
	if cl.conn.Role() == types.RoleStudent {
		h.presence.Leave(cl.conn)
	} else {
		h.presence.Disconnect(cl.conn)
	}
	cl.joined = false
	_ = cl.conn.Close()
}

func (h *Handler) send(conn interfaces.Conn, event string, payload any) {
	if err := conn.WriteEvent(event, payload); err != nil {
		h.log.Warn().Err(err).Str("event", event).Str("conn", conn.ConnID()).Msg("direct send failed")
	}
}
