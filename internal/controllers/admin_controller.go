package controllers

import (
	"net/http"

	"github.com/icnocop/pipelines-testlogger/internal/services"
	"github.com/icnocop/pipelines-testlogger/pkg/persistence"

	"github.com/gin-gonic/gin"
)

type listRequestsController struct{ log persistence.RequestLog }

func NewListRequestsController(log persistence.RequestLog) *listRequestsController {
	return &listRequestsController{log}
}

func (h *listRequestsController) Handle(c *gin.Context) {
	out, err := h.log.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "value": out})
}

type resetRequestsController struct{ log persistence.RequestLog }

func NewResetRequestsController(log persistence.RequestLog) *resetRequestsController {
	return &resetRequestsController{log}
}

func (h *resetRequestsController) Handle(c *gin.Context) {
	if err := h.log.Reset(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type listRunsController struct{ svc services.TestRunService }

func NewListRunsController(svc services.TestRunService) *listRunsController {
	return &listRunsController{svc}
}

func (h *listRunsController) Handle(c *gin.Context) {
	out, err := h.svc.ListRuns(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "value": out})
}

type healthController struct{ store persistence.PluginPersistence }

func NewHealthController(store persistence.PluginPersistence) *healthController {
	return &healthController{store}
}

func (h *healthController) Handle(c *gin.Context) {
	if err := h.store.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
