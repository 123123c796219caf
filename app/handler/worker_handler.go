package handler

import (
	"net/http"

	"gpurelay/internal/model"
	"gpurelay/internal/service"

	"github.com/gin-gonic/gin"
)

// WorkerHandler handles worker registration and listing
type WorkerHandler struct {
	workerService *service.WorkerService
}

// NewWorkerHandler creates a new worker handler
func NewWorkerHandler(workerService *service.WorkerService) *WorkerHandler {
	return &WorkerHandler{
		workerService: workerService,
	}
}

// Register registers or renews a worker
// @Summary Register worker
// @Tags worker
// @Accept json
// @Produce json
// @Param request body model.RegisterRequest true "Worker registration"
// @Success 201 {object} model.RegisterResponse
// @Router /register [post]
func (h *WorkerHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	worker, err := h.workerService.Register(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model.RegisterResponse{
		Message:  "Worker registered successfully",
		WorkerID: worker.ID,
	})
}

// List lists live workers
// @Summary List workers
// @Tags worker
// @Produce json
// @Success 200 {array} model.Worker
// @Router /workers [get]
func (h *WorkerHandler) List(c *gin.Context) {
	workers := h.workerService.ListWorkers(c.Request.Context())
	if workers == nil {
		workers = []*model.Worker{}
	}
	c.JSON(http.StatusOK, workers)
}
