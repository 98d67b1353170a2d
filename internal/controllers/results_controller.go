package controllers

import (
	"net/http"

	"github.com/icnocop/pipelines-testlogger/internal/services"
	"github.com/icnocop/pipelines-testlogger/pkg/domain"

	"github.com/gin-gonic/gin"
)

// listResponse is the {"count","value"} envelope every collection call returns.
type listResponse struct {
	Count int                   `json:"count"`
	Value []domain.ResultRecord `json:"value"`
}

func bindResults(c *gin.Context) ([]domain.ResultRecord, bool) {
	var recs []domain.ResultRecord
	if err := c.ShouldBindJSON(&recs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON array of results"})
		return nil, false
	}
	return recs, true
}

type addResultsController struct{ svc services.TestRunService }

func NewAddResultsController(svc services.TestRunService) *addResultsController {
	return &addResultsController{svc}
}

func (h *addResultsController) Handle(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	recs, ok := bindResults(c)
	if !ok {
		return
	}
	out, err := h.svc.AddResults(c.Request.Context(), id, recs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Count: len(out), Value: out})
}

type updateResultsController struct{ svc services.TestRunService }

func NewUpdateResultsController(svc services.TestRunService) *updateResultsController {
	return &updateResultsController{svc}
}

func (h *updateResultsController) Handle(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	recs, ok := bindResults(c)
	if !ok {
		return
	}
	out, err := h.svc.UpdateResults(c.Request.Context(), id, recs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Count: len(out), Value: out})
}

type listResultsController struct{ svc services.TestRunService }

func NewListResultsController(svc services.TestRunService) *listResultsController {
	return &listResultsController{svc}
}

func (h *listResultsController) Handle(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	out, err := h.svc.ListResults(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Count: len(out), Value: out})
}
