package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/arena/internal/assets"
	"github.com/jason-s-yu/arena/internal/dispatch"
	"github.com/jason-s-yu/arena/internal/middleware"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/jason-s-yu/arena/internal/orchestrator"
	"github.com/jason-s-yu/arena/internal/registry"
	"github.com/jason-s-yu/arena/internal/stream"
	"github.com/sirupsen/logrus"
)

const subprotocol = "battle"

// Sessions is the battle RPC surface served over WebSocket.
type Sessions interface {
	ConnectDirectInvite(ctx context.Context, req models.ConnectRequest, out stream.Sender) (*models.ConnectResponse, error)
	ConnectRankedPool(ctx context.Context, req models.ConnectRequest, out stream.Sender) (*models.ConnectResponse, error)
	PlayBattle(ctx context.Context, userID string, conn stream.Conn) error
	ResetAllSessions(ctx context.Context)
}

type connectFunc func(ctx context.Context, req models.ConnectRequest, out stream.Sender) (*models.ConnectResponse, error)

// BattleHandlers serves the battle endpoints. Every route expects middleware.RequireRole
// to have run.
type BattleHandlers struct {
	sessions       Sessions
	originPatterns []string
	logger         logrus.FieldLogger
}

func NewBattleHandlers(sessions Sessions, originPatterns []string, logger logrus.FieldLogger) *BattleHandlers {
	return &BattleHandlers{sessions: sessions, originPatterns: originPatterns, logger: logger}
}

// DirectWSHandler serves GET /battle/direct/ws.
func (h *BattleHandlers) DirectWSHandler() http.HandlerFunc {
	return h.connectHandler(h.sessions.ConnectDirectInvite)
}

// RankedWSHandler serves GET /battle/ranked/ws.
func (h *BattleHandlers) RankedWSHandler() http.HandlerFunc {
	return h.connectHandler(h.sessions.ConnectRankedPool)
}

// connectHandler reads the ConnectRequest frame, waits for the battle and closes the socket
// once the response has been written.
func (h *BattleHandlers) connectHandler(connect connectFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, c, ok := h.accept(w, r)
		if !ok {
			return
		}
		defer c.Close(websocket.StatusInternalError, "Internal server error during handler exit.")
		conn := stream.NewWSConn(c)

		var req models.ConnectRequest
		if err := conn.Receive(r.Context(), &req); err != nil {
			h.closeWithError(r.Context(), conn, websocket.StatusPolicyViolation, "expected a connect request")
			middleware.LogWebSocketDisconnect(h.logger, r.RemoteAddr, r.URL.Path, userID, err)
			return
		}
		if req.UserID != userID {
			h.closeWithError(r.Context(), conn, InvalidUserIDError, "user_id does not match the token")
			middleware.LogWebSocketDisconnect(h.logger, r.RemoteAddr, r.URL.Path, userID, nil)
			return
		}

		// Nothing else is read from a connect stream; the context ends when the client leaves.
		ctx := conn.CloseRead(r.Context())
		_, err := connect(ctx, req, conn)
		switch {
		case err == nil:
			conn.Close(websocket.StatusNormalClosure, "battle created")
		case ctx.Err() != nil:
		default:
			h.closeWithError(ctx, conn, connectCloseCode(err), err.Error())
		}
		middleware.LogWebSocketDisconnect(h.logger, r.RemoteAddr, r.URL.Path, userID, err)
	}
}

// PlayWSHandler serves GET /battle/play/ws.
func (h *BattleHandlers) PlayWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, c, ok := h.accept(w, r)
		if !ok {
			return
		}
		defer c.Close(websocket.StatusInternalError, "Internal server error during handler exit.")
		conn := stream.NewWSConn(c)

		err := h.sessions.PlayBattle(r.Context(), userID, conn)
		switch {
		case err == nil:
			conn.Close(websocket.StatusNormalClosure, "")
		case errors.Is(err, dispatch.ErrInvalidJoin):
			h.closeWithError(r.Context(), conn, websocket.StatusPolicyViolation, err.Error())
		default:
			h.closeWithError(r.Context(), conn, websocket.StatusInternalError, err.Error())
		}
		middleware.LogWebSocketDisconnect(h.logger, r.RemoteAddr, r.URL.Path, userID, err)
	}
}

// ResetHandler serves POST /admin/battles/reset. It always answers 204.
func (h *BattleHandlers) ResetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.sessions.ResetAllSessions(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *BattleHandlers) accept(w http.ResponseWriter, r *http.Request) (string, *websocket.Conn, bool) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return "", nil, false
	}
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{subprotocol},
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket accept error")
		return "", nil, false
	}
	if c.Subprotocol() != subprotocol {
		c.Close(BadSubprotocolError, "Client must use the 'battle' subprotocol.")
		return "", nil, false
	}
	middleware.LogWebSocketConnect(h.logger, r.RemoteAddr, r.URL.Path, claims.Subject)
	return claims.Subject, c, true
}

// closeWithError writes an error frame and closes the socket with code.
func (h *BattleHandlers) closeWithError(ctx context.Context, conn *stream.WSConn, code websocket.StatusCode, reason string) {
	if err := conn.Send(ctx, models.NewErrorMessage(reason)); err != nil {
		h.logger.WithError(err).Debug("failed to send error message")
	}
	conn.Close(code, truncateReason(reason))
}

// connectCloseCode maps a connect failure to policy violation when the client can fix it.
func connectCloseCode(err error) websocket.StatusCode {
	switch {
	case errors.Is(err, models.ErrInvalidRequest),
		errors.Is(err, registry.ErrAlreadyQueued),
		errors.Is(err, registry.ErrAlreadyInBattle),
		errors.Is(err, orchestrator.ErrQueueTimeout),
		errors.Is(err, assets.ErrDeckNotFound):
		return websocket.StatusPolicyViolation
	}
	return websocket.StatusInternalError
}
