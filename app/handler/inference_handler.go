package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"gpurelay/internal/model"
	"gpurelay/internal/service"
	"gpurelay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// InferenceHandler handles inference submission and result retrieval
type InferenceHandler struct {
	dispatcher    *service.Dispatcher
	resultService *service.ResultService
	watchInterval time.Duration
}

// NewInferenceHandler creates a new inference handler
func NewInferenceHandler(dispatcher *service.Dispatcher, resultService *service.ResultService, watchInterval time.Duration) *InferenceHandler {
	return &InferenceHandler{
		dispatcher:    dispatcher,
		resultService: resultService,
		watchInterval: watchInterval,
	}
}

// Submit dispatches an inference request to a compatible worker
// @Summary Submit inference
// @Tags inference
// @Accept json
// @Produce json
// @Param request body model.InferenceRequest true "Inference request"
// @Success 200 {object} model.InferenceResponse
// @Failure 400 {object} map[string]string
// @Router /inference [post]
func (h *InferenceHandler) Submit(c *gin.Context) {
	var req model.InferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	requestID, err := h.dispatcher.Dispatch(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.InferenceResponse{
		RequestID: requestID,
		Message:   "Inference job queued successfully",
	})
}

// GetResult returns the result of a request, 404 while none is published
// @Summary Get inference result
// @Tags inference
// @Produce json
// @Param request_id path string true "Request ID"
// @Success 200 {object} model.InferenceResult
// @Failure 404 {object} map[string]string
// @Router /result/{request_id} [get]
func (h *InferenceHandler) GetResult(c *gin.Context) {
	result, err := h.resultService.Get(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// WatchResult pushes the result over a websocket once it is published, then closes
// @Summary Watch inference result
// @Tags inference
// @Param request_id path string true "Request ID"
// @Router /result/{request_id}/watch [get]
func (h *InferenceHandler) WatchResult(c *gin.Context) {
	requestID := c.Param("request_id")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to upgrade to websocket: %v", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(logger.WithTraceID(c.Request.Context(), requestID))
	defer cancel()

	// A read error means the client went away
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	result, err := h.resultService.Wait(ctx, requestID, h.watchInterval)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.DebugCtx(ctx, "result watcher disconnected")
			return
		}
		logger.WarnCtx(ctx, "result watch failed: %v", err)
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "queue backend unavailable"))
		return
	}

	if err := ws.WriteJSON(result); err != nil {
		logger.WarnCtx(ctx, "failed to push result: %v", err)
		return
	}
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
