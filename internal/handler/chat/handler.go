package chat

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/careline/bookingbot/internal/handler"
	"github.com/careline/bookingbot/internal/service/orchestrator"
)

type Handler struct {
	orchestrator *orchestrator.Service
}

func NewHandler(o *orchestrator.Service) *Handler {
	return &Handler{orchestrator: o}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	chat := rg.Group("/chat")
	{
		chat.POST("", h.ProcessTurn)
		chat.DELETE("/:session_id", h.EndSession)
	}
}

type turnRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message" binding:"required,max=2000"`
}

type turnResponse struct {
	SessionID string                `json:"session_id"`
	Reply     string                `json:"reply"`
	Intent    string                `json:"intent"`
	State     string                `json:"state"`
	Entities  map[string]string     `json:"entities,omitempty"`
	ElapsedMS int64                 `json:"elapsed_ms"`
}

// ProcessTurn runs one conversational turn. A missing session id starts
// a fresh conversation.
func (h *Handler) ProcessTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	result, err := h.orchestrator.ProcessTurn(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	handler.RespondOK(c, turnResponse{
		SessionID: req.SessionID,
		Reply:     result.Text,
		Intent:    string(result.Intent.Name),
		State:     string(result.NewState),
		Entities:  result.Entities,
		ElapsedMS: result.ProcessingTime.Milliseconds(),
	})
}

func (h *Handler) EndSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := h.orchestrator.EndSession(c.Request.Context(), sessionID); err != nil {
		handler.RespondError(c, err)
		return
	}
	handler.RespondOK(c, gin.H{"session_id": sessionID})
}
