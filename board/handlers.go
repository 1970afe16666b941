package board

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/soycyj/unline/admission"
)

type Handler struct {
	hub      *Hub
	registry *Registry
	gate     Gatekeeper
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHandler(hub *Hub, registry *Registry, gate Gatekeeper, allowedOrigins []string, log zerolog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		registry: registry,
		gate:     gate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		log: log,
	}
}

func (h *Handler) RoomSocketHandler(ctx *gin.Context) {
	code := ""
	if raw := ctx.Query("room"); raw != "" {
		normalized, err := admission.NormalizeRoomCode(raw)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		code = normalized
	}

	ip := ctx.ClientIP()
	if err := h.gate.Connect(ip); err != nil {
		ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		h.gate.Disconnect(ip)
		h.log.Warn().Err(err).Str("ip", ip).Msg("ws upgrade failed")
		return
	}

	socket := NewWebsocketConnection(conn, h.hub.cfg.ReadLimit)
	client := h.hub.NewClient(socket, ip, ctx.Query("clientId"), ctx.Query("label"))
	go h.hub.Serve(client, code)
}

type decisionRequest struct {
	Room     string `json:"room" binding:"required"`
	Decision string `json:"decision" binding:"required"`
	ClientID string `json:"clientId" binding:"required"`
}

func (h *Handler) SessionDecisionHandler(ctx *gin.Context) {
	var body decisionRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid-body"})
		return
	}

	code, err := admission.NormalizeRoomCode(body.Room)
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, ok := h.registry.Lookup(code)
	if !ok {
		ctx.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": ErrRoomNotFound.Error()})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	err = room.Decide(reqCtx, body.ClientID, body.Decision)
	switch {
	case err == nil:
		ctx.JSON(http.StatusOK, gin.H{"ok": true})
	case errors.Is(err, ErrUnknownDecision):
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotMember), errors.Is(err, ErrRoomClosed):
		ctx.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrDecisionForbidden):
		ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNoDecisionPending):
		ctx.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Str("room", code).Msg("decision failed")
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unknown-error"})
	}
}

func (h *Handler) RoomStatusHandler(ctx *gin.Context) {
	code, err := admission.NormalizeRoomCode(ctx.Param("code"))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, ok := h.registry.Lookup(code)
	if !ok {
		ctx.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": ErrRoomNotFound.Error()})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	status, err := room.Status(reqCtx)
	if errors.Is(err, ErrRoomClosed) {
		ctx.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": ErrRoomNotFound.Error()})
		return
	}
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unknown-error"})
		return
	}
	ctx.JSON(http.StatusOK, status)
}
