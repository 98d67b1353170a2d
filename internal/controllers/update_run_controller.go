package controllers

import (
	"net/http"

	"github.com/icnocop/pipelines-testlogger/internal/services"
	"github.com/icnocop/pipelines-testlogger/pkg/domain"

	"github.com/gin-gonic/gin"
)

type updateRunController struct{ svc services.TestRunService }

func NewUpdateRunController(svc services.TestRunService) *updateRunController {
	return &updateRunController{svc}
}

func (h *updateRunController) Handle(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	var req domain.UpdateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	run, err := h.svc.UpdateRun(c.Request.Context(), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}
