package controllers

import (
	"net/http"

	"github.com/icnocop/pipelines-testlogger/internal/services"
	"github.com/icnocop/pipelines-testlogger/pkg/domain"

	"github.com/gin-gonic/gin"
)

type createRunController struct{ svc services.TestRunService }

func NewCreateRunController(svc services.TestRunService) *createRunController {
	return &createRunController{svc}
}

func (h *createRunController) Handle(c *gin.Context) {
	var req domain.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	run, err := h.svc.CreateRun(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}
