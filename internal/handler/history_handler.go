package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/service"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/log"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/response"
)

type HistoryHandler struct {
	history service.HistoryService
}

func NewHistoryHandler(history service.HistoryService) *HistoryHandler {
	return &HistoryHandler{history: history}
}

func (h *HistoryHandler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api/v1")
	{
		api.GET("/rooms/:room_id/messages", h.GetMessages)
	}
}

// GetMessages handles GET /api/v1/rooms/:room_id/messages?limit=&before=
func (h *HistoryHandler) GetMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	if roomID == "" {
		response.BadRequest(c, "room_id is required")
		return
	}

	limit := service.DefaultHistoryLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	page, err := h.history.GetHistory(c.Request.Context(), roomID, c.Query("before"), limit)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to get chat history")
		response.InternalError(c, "failed to get chat history")
		return
	}

	response.Success(c, page)
}
