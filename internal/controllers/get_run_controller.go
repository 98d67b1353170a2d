package controllers

import (
	"net/http"

	"github.com/icnocop/pipelines-testlogger/internal/services"

	"github.com/gin-gonic/gin"
)

type getRunController struct{ svc services.TestRunService }

func NewGetRunController(svc services.TestRunService) *getRunController {
	return &getRunController{svc}
}

func (h *getRunController) Handle(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	run, err := h.svc.GetRun(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}
