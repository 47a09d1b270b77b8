package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"coursechat/internal/chat"
	"coursechat/pkg/types"
)

// Error codes sent to the submitting client only
const (
	CodeUnauthorized    = "unauthorized"
	CodePersistence     = "persistence_failure"
	CodeRateLimited     = "rate_limited"
	CodeMessageTooLarge = "message_too_large"
	CodeUnavailable     = "unavailable"
)

const notMemberDetail = "You are not enrolled in this course."

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// IdentityResolver derives the caller's identity from the handshake request
type IdentityResolver interface {
	IdentityFromRequest(r *http.Request) types.Identity
}

// Gate answers chat membership
type Gate interface {
	CanJoin(ctx context.Context, id types.Identity, courseID int64) bool
}

// Submitter is the chat channel's write side
type Submitter interface {
	Submit(ctx context.Context, courseID int64, sender types.Identity, text string) (*types.ChatMessage, error)
}

// RoomRegistry tracks which handles are attached to which course
type RoomRegistry interface {
	Join(courseID int64, h chat.Handle) bool
	Leave(courseID int64, h chat.Handle) bool
}

// HandlerConfig controls connect-time policy
type HandlerConfig struct {
	// EnforceMembership rejects non-members with 403 before the upgrade.
	// When false they are accepted as receive-only sessions.
	EnforceMembership bool
	Connection        ConnectionConfig
}

// InboundFrame is the only frame clients send
type InboundFrame struct {
	Message *string `json:"message"`
}

// ErrorFrame reports a failed submission to its sender
type ErrorFrame struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Handler serves GET /ws/course_chat/{course_id}/
type Handler struct {
	identities IdentityResolver
	gate       Gate
	channel    Submitter
	rooms      RoomRegistry
	config     HandlerConfig
	log        *slog.Logger

	active atomic.Int64
}

func NewHandler(identities IdentityResolver, gate Gate, channel Submitter, rooms RoomRegistry, config HandlerConfig, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	config.Connection = config.Connection.withDefaults()
	return &Handler{
		identities: identities,
		gate:       gate,
		channel:    channel,
		rooms:      rooms,
		config:     config,
		log:        log.With("component", "websocket"),
	}
}

// ActiveSessions counts sessions between Joined and Closed
func (h *Handler) ActiveSessions() int64 {
	return h.active.Load()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	courseID, err := strconv.ParseInt(r.PathValue("course_id"), 10, 64)
	if err != nil || courseID <= 0 {
		http.NotFound(w, r)
		return
	}

	identity := h.identities.IdentityFromRequest(r)
	member := h.gate.CanJoin(r.Context(), identity, courseID)
	if !member && h.config.EnforceMembership {
		http.Error(w, notMemberDetail, http.StatusForbidden)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	conn := NewConnection(ws, identity.UserID, h.config.Connection, h.log)
	session := NewSession(identity, courseID, member)
	h.serve(session, conn, ws)
}

// serve runs the session from Joined until the transport goes away
func (h *Handler) serve(session *Session, conn *Connection, ws *websocket.Conn) {
	log := h.log.With("course_id", session.CourseID, "user_id", session.Identity.UserID, "conn_id", conn.ID())

	if err := session.Join(); err != nil {
		log.Error("session join failed", "err", err)
		_ = conn.Close()
		return
	}
	h.rooms.Join(session.CourseID, conn)
	h.active.Add(1)
	log.Info("chat session joined", "member", session.Member)

	defer func() {
		if err := session.Close(); err != nil {
			return
		}
		h.rooms.Leave(session.CourseID, conn)
		_ = conn.Close()
		h.active.Add(-1)
		log.Info("chat session closed")
	}()

	// a block that landed between the gate check and Join found nothing to evict
	if session.Member && !h.gate.CanJoin(conn.Context(), session.Identity, session.CourseID) {
		session.Member = false
		log.Info("membership revoked during connect")
		if h.config.EnforceMembership {
			return
		}
	}

	cfg := h.config.Connection
	ws.SetReadLimit(cfg.ReadLimit)
	if err := ws.SetReadDeadline(time.Now().Add(cfg.PongWait)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("websocket read failed", "err", err)
			}
			return
		}
		if err := ws.SetReadDeadline(time.Now().Add(cfg.PongWait)); err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Message == nil {
			log.Debug("ignoring unrecognized frame")
			continue
		}
		h.submit(session, conn, *frame.Message, log)
	}
}

func (h *Handler) submit(session *Session, conn *Connection, text string, log *slog.Logger) {
	if !session.Member {
		h.reject(conn, CodeUnauthorized, notMemberDetail, log)
		return
	}

	_, err := h.channel.Submit(conn.Context(), session.CourseID, session.Identity, text)
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		h.reject(conn, CodeUnauthorized, "Sign in to send messages.", log)
	case errors.Is(err, chat.ErrPersistence):
		h.reject(conn, CodePersistence, "Message could not be saved.", log)
	case errors.Is(err, chat.ErrRateLimited):
		h.reject(conn, CodeRateLimited, "Too many messages, slow down.", log)
	case errors.Is(err, types.ErrMessageTooLarge):
		h.reject(conn, CodeMessageTooLarge, "Message is too large.", log)
	default:
		h.reject(conn, CodeUnavailable, "Chat is unavailable.", log)
	}
}

func (h *Handler) reject(conn *Connection, code, detail string, log *slog.Logger) {
	if err := conn.WriteJSON(ErrorFrame{Error: code, Detail: detail}); err != nil {
		log.Debug("failed to send error frame", "err", err)
	}
}
