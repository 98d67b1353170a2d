package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/icnocop/pipelines-testlogger/internal/services"
	"github.com/icnocop/pipelines-testlogger/pkg/persistence"

	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func runID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("runId"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return 0, false
	}
	return id, true
}
